package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/revsync/internal"
	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/mcpserver"
	"github.com/starford/revsync/internal/models"
	pkgconfig "github.com/starford/revsync/pkg/config"
)

const version = "0.1.0"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// openSession loads config and connects. Client commands log to stderr so
// stdout carries only their results.
func openSession(ctx context.Context, cmd *cli.Command) (*internal.Session, *internal.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	s, err := internal.NewSession(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func syncFiles(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return errors.New("sync: at least one path is required")
	}
	s, _, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var failed int
	for _, p := range paths {
		out, err := s.Engine.SyncFile(ctx, p)
		line := map[string]any{
			"path":     p,
			"fileID":   out.FileID,
			"status":   out.Status.String(),
			"uploaded": len(out.Uploaded),
		}
		if err != nil && !errors.Is(err, apperr.ErrNoChange) {
			failed++
			line["error"] = err.Error()
			line["failedChunks"] = out.Failed
		}
		if err := printJSON(line); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("sync: %d of %d files failed", failed, len(paths))
	}
	return nil
}

func watchDir(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if dir := cmd.String("dir"); dir != "" {
		cfg.Sync.WatchDir = dir
	}
	if err := os.MkdirAll(cfg.Sync.WatchDir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	s, err := internal.NewSession(ctx, internal.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Watch(ctx)
}

func listFiles(ctx context.Context, cmd *cli.Command) error {
	s, _, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	files := s.Registry.Snapshot()
	out := models.FileListing{Files: make([]models.FileEntry, 0, len(files))}
	for _, f := range files {
		out.Files = append(out.Files, f.Entry())
	}
	return printJSON(out)
}

func download(ctx context.Context, cmd *cli.Command) error {
	target := cmd.Args().First()
	if target == "" {
		return errors.New("download: file name or ID is required")
	}
	s, _, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	data, m, err := s.Engine.Download(ctx, target)
	if err != nil {
		return err
	}
	dest := cmd.String("out")
	if dest == "" {
		dest = m.FileName
	}
	if dest == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	slog.Info("downloaded", slog.String("file_id", m.FileID), slog.String("dest", dest), slog.Int("bytes", len(data)))
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	s, _, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	go func() {
		if err := s.Subscribe(ctx); err != nil {
			slog.Warn("push channel stopped", slog.String("error", err.Error()))
		}
	}()
	return mcpserver.New(s.Engine, version).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:    "revsync",
		Usage:   "Chunked, resumable file sync against a remote store",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the reference remote store",
				Action: serve,
			},
			{
				Name:      "sync",
				Usage:     "Sync local files to the remote store",
				ArgsUsage: "<path> [path...]",
				Action:    syncFiles,
			},
			{
				Name:  "watch",
				Usage: "Sync a directory whenever its files change",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Directory to watch (overrides sync.watch_dir)"},
				},
				Action: watchDir,
			},
			{
				Name:   "list",
				Usage:  "List files known to the remote store",
				Action: listFiles,
			},
			{
				Name:      "download",
				Usage:     "Download a confirmed file",
				ArgsUsage: "<name|fileID>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Destination path, or - for stdout"},
				},
				Action: download,
			},
			{
				Name:   "mcp",
				Usage:  "Serve sync tools over MCP stdio",
				Action: serveMCP,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
