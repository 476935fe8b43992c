package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/config"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/tokenfile"
)

// Server states reported by status.
const (
	serverStateOnline  = "online"
	serverStateStopped = "stopped"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the server is running and where its state lives",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printStatus(cmd.OutOrStdout(), resolvedCfg, config.DefaultPIDPath())
		},
	}
}

type statusReport struct {
	State       string
	PID         int
	URL         string
	SessionFile string
	SessionInfo string
	CachePath   string
	CacheInfo   string
}

func printStatus(w io.Writer, cfg *config.Config, pidPath string) error {
	pid, err := runningPID(pidPath)
	if err != nil {
		return err
	}

	r := statusReport{
		State:       serverStateStopped,
		PID:         pid,
		URL:         fmt.Sprintf("%s://%s:%d/", cfg.Server.Protocol, cfg.Server.Host, cfg.Server.Port),
		SessionFile: cfg.Auth.SessionFile,
		SessionInfo: describeSession(cfg.Auth.SessionFile),
		CachePath:   cfg.Cache.Path,
		CacheInfo:   describeCache(cfg.Cache.Path),
	}

	if pid != 0 {
		r.State = serverStateOnline
	}

	fmt.Fprintf(w, "Server:   %s", r.State)
	if r.PID != 0 {
		fmt.Fprintf(w, " (PID %d)", r.PID)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "URL:      %s\n", r.URL)
	fmt.Fprintf(w, "Session:  %s (%s)\n", r.SessionFile, r.SessionInfo)
	fmt.Fprintf(w, "Cache:    %s [%s] (%s)\n", r.CachePath, cfg.Cache.Backend, r.CacheInfo)

	return nil
}

func describeSession(path string) string {
	tf, err := tokenfile.Load(path)
	if err != nil {
		// Metadata is still readable when the secrets are incomplete.
		if meta, metaErr := tokenfile.ReadMeta(path); metaErr == nil && meta["email"] != "" {
			return meta["email"] + ", invalid: " + err.Error()
		}

		return "invalid: " + err.Error()
	}

	if tf == nil {
		return "missing, login required"
	}

	desc := "bucket " + tf.Bucket
	if email := tf.Meta["email"]; email != "" {
		desc = email + ", " + desc
	}

	if tf.Token != nil && !tf.Token.Expiry.IsZero() {
		if tf.Token.Expiry.Before(time.Now()) {
			desc += ", token expired " + humanize.Time(tf.Token.Expiry)
		} else {
			desc += ", token expires " + humanize.Time(tf.Token.Expiry)
		}
	}

	return desc
}

// describeCache reports the on-disk size of a cache file or directory.
func describeCache(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "not created"
	}

	size := info.Size()

	if info.IsDir() {
		size = 0

		_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}

			if fi, err := d.Info(); err == nil {
				size += fi.Size()
			}

			return nil
		})
	}

	return humanize.Bytes(uint64(size)) + ", modified " + humanize.Time(info.ModTime())
}
