package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

func TestNewClientAppliesDefaults(t *testing.T) {
	c := NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, Options{})
	defer c.Close()

	got := map[asynq.OptionType]any{}
	for _, opt := range c.taskOptions("exp-1") {
		got[opt.Type()] = opt.Value()
	}

	if got[asynq.QueueOpt] != "default" {
		t.Fatalf("expected default queue, got %v", got[asynq.QueueOpt])
	}
	if got[asynq.TaskIDOpt] != "exp-1" {
		t.Fatalf("expected task id exp-1, got %v", got[asynq.TaskIDOpt])
	}
	if got[asynq.MaxRetryOpt] != DefaultMaxRetry {
		t.Fatalf("expected max retry %d, got %v", DefaultMaxRetry, got[asynq.MaxRetryOpt])
	}
	if got[asynq.TimeoutOpt] != DefaultTimeout {
		t.Fatalf("expected timeout %v, got %v", DefaultTimeout, got[asynq.TimeoutOpt])
	}
	if got[asynq.RetentionOpt] != DefaultRetention {
		t.Fatalf("expected retention %v, got %v", DefaultRetention, got[asynq.RetentionOpt])
	}
}

func TestNewClientKeepsExplicitOptions(t *testing.T) {
	c := NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, Options{
		Queue:     "exports",
		MaxRetry:  7,
		Timeout:   time.Minute,
		Retention: time.Hour,
	})
	defer c.Close()

	if c.opts.Queue != "exports" || c.opts.MaxRetry != 7 || c.opts.Timeout != time.Minute || c.opts.Retention != time.Hour {
		t.Fatalf("expected explicit options to survive, got %+v", c.opts)
	}
}
