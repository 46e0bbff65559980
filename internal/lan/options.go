package lan

import (
	"context"
	"log/slog"
	"time"

	"renderqueue/internal/config"
	"renderqueue/internal/logging"
	"renderqueue/internal/metrics"
	"renderqueue/internal/preflight"
	"renderqueue/internal/transferlog"
)

const defaultPollInterval = time.Second

// Ledger records transfer attempts. *transferlog.Store satisfies it.
type Ledger interface {
	Begin(ctx context.Context, rec transferlog.Record) (transferlog.Record, error)
	Finish(ctx context.Context, id string, status transferlog.Status, path string, err error) error
}

// ReceivedFile describes a file stored in the inbox.
type ReceivedFile struct {
	ID   string
	Name string
	Path string
	Size int64
	Peer string
}

// Options configures servers, clients and nodes. Zero values fall back to
// defaults; Version must be set.
type Options struct {
	Version      string
	InboxDir     string
	PollInterval time.Duration
	Logger       *slog.Logger
	Ledger       Ledger
	Metrics      *metrics.Metrics
	// FreeSpace reports available bytes under a directory.
	FreeSpace func(path string) (uint64, error)
	// OnReceive is called after a file was stored in the inbox.
	OnReceive func(ReceivedFile)
}

// OptionsFromConfig fills the protocol settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Version:      cfg.Network.ProtocolVersion,
		InboxDir:     cfg.Paths.InboxDir,
		PollInterval: cfg.PollInterval(),
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	if o.FreeSpace == nil {
		o.FreeSpace = preflight.FreeBytes
	}
	return o
}

func (o Options) begin(rec transferlog.Record) transferlog.Record {
	if o.Ledger == nil {
		return rec
	}
	stored, err := o.Ledger.Begin(context.Background(), rec)
	if err != nil {
		o.Logger.Warn("transfer ledger write failed", logging.Error(err))
		return rec
	}
	return stored
}

func (o Options) finish(rec transferlog.Record, status transferlog.Status, path string, transferErr error) {
	o.Metrics.Transfer(string(rec.Direction), string(status), sizeIf(status == transferlog.StatusSuccess, rec.Size))
	if o.Ledger == nil || rec.ID == "" {
		return
	}
	if err := o.Ledger.Finish(context.Background(), rec.ID, status, path, transferErr); err != nil {
		o.Logger.Warn("transfer ledger update failed", logging.Error(err), logging.String(logging.FieldTransferID, rec.ID))
	}
}

func sizeIf(ok bool, size int64) int64 {
	if ok {
		return size
	}
	return 0
}
