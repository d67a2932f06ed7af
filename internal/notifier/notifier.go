// Package notifier consumes the server-pushed completion stream and applies
// each notice to the registry. Reconnection is left to the caller.
package notifier

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/starford/revsync/internal/apperr"
)

// ErrStreamEnded is returned by a Source whose server declined to open a
// stream (for example 204 No Content). The closure is treated as graceful.
var ErrStreamEnded = errors.New("notifier: stream ended by server")

// Source opens one push stream. A non-empty lastEventID asks the server to
// replay the notices published after that event.
type Source interface {
	Open(ctx context.Context, lastEventID string) (io.ReadCloser, error)
}

// Applier receives completion events.
type Applier interface {
	ApplyCompletionEvent(fileID string) error
}

// Notifier reads one stream until it closes.
type Notifier struct {
	source  Source
	applier Applier
	logger  *slog.Logger
	lastID  string

	// OnNotice, when set, observes every decoded notice after it is applied.
	OnNotice func(Notice)
}

// New creates a Notifier.
func New(source Source, applier Applier, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{source: source, applier: applier, logger: logger}
}

// Run consumes the stream and always returns a *apperr.ConnClosedError.
// End of stream and ctx cancellation are graceful; open failures, read
// errors and server rejections are abnormal.
func (n *Notifier) Run(ctx context.Context) error {
	body, err := n.source.Open(ctx, n.lastID)
	if err != nil {
		graceful := errors.Is(err, ErrStreamEnded) || ctx.Err() != nil
		return &apperr.ConnClosedError{Graceful: graceful, Err: err}
	}
	defer body.Close()

	// Unblock the scanner when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	events, err := n.consume(body)
	received := events > 0
	switch {
	case ctx.Err() != nil:
		return &apperr.ConnClosedError{Graceful: true, Received: received, Err: ctx.Err()}
	case err == nil:
		return &apperr.ConnClosedError{Graceful: true, Received: received, Err: io.EOF}
	default:
		return &apperr.ConnClosedError{Graceful: false, Received: received, Err: fmt.Errorf("read stream: %w", err)}
	}
}

// LastEventID returns the id of the last event seen across runs.
func (n *Notifier) LastEventID() string {
	return n.lastID
}

// consume parses the event stream format: "data:" lines accumulate until a
// blank line dispatches them; comment lines start with ':'. It returns the
// number of events framed before the stream ended.
func (n *Notifier) consume(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	var (
		data   []string
		event  string
		id     string
		hasID  bool
		events int
	)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if hasID || len(data) > 0 {
				events++
			}
			if hasID {
				n.lastID = id
			}
			if len(data) > 0 && (event == "" || event == "message") {
				n.dispatch(strings.Join(data, "\n"))
			}
			data, event, hasID = data[:0], "", false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			event = value
		case "id":
			id, hasID = value, true
		}
	}
	return events, sc.Err()
}

func (n *Notifier) dispatch(payload string) {
	notice, err := ParseNotice(payload)
	if err != nil {
		n.logger.Warn("notifier: skip notice", slog.String("data", payload), slog.String("error", err.Error()))
		return
	}
	if err := n.applier.ApplyCompletionEvent(notice.FileID); err != nil {
		n.logger.Warn("notifier: apply completion",
			slog.String("file_id", notice.FileID),
			slog.String("error", err.Error()))
	} else {
		n.logger.Debug("notifier: file confirmed", slog.String("file_id", notice.FileID))
	}
	if n.OnNotice != nil {
		n.OnNotice(notice)
	}
}
