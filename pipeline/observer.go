package pipeline

import (
	"context"
	"errors"
	"time"
)

// Stage names used in events and log lines.
const (
	StageSync    = "sync"
	StageIngest  = "ingest"
	StagePublish = "publish"
)

// StageEvent describes one availability write of a stage.
type StageEvent struct {
	RunID     string
	Stage     string
	Available bool
	Version   VersionID
	Digest    string
	Seq       uint64
	At        time.Time
	// Err is the failure that made the stage unavailable, if any.
	Err error
}

// Publication describes one message accepted by the sink.
type Publication struct {
	RunID       string
	MessageID   string
	Version     VersionID
	Digest      string
	ContentType string
	Body        []byte
	Categories  int
	Attempts    int
	At          time.Time
}

// Observer receives stage transitions and publications, e.g. to persist
// them for monitoring. Errors are logged by the stage and never change its
// behaviour.
type Observer interface {
	StageChanged(ctx context.Context, ev StageEvent) error
	Published(ctx context.Context, pub Publication) error
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) StageChanged(context.Context, StageEvent) error { return nil }
func (NopObserver) Published(context.Context, Publication) error   { return nil }

// MultiObserver fans events out to every observer in order. Nil entries are
// skipped; all observers are called even if one fails.
func MultiObserver(observers ...Observer) Observer {
	list := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return multiObserver(list)
}

type multiObserver []Observer

func (m multiObserver) StageChanged(ctx context.Context, ev StageEvent) error {
	var errs []error
	for _, o := range m {
		if err := o.StageChanged(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiObserver) Published(ctx context.Context, pub Publication) error {
	var errs []error
	for _, o := range m {
		if err := o.Published(ctx, pub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
