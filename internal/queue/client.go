package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Options controls how export tasks are enqueued. Zero values fall back to
// the defaults below.
type Options struct {
	Queue     string
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

const (
	DefaultMaxRetry  = 3
	DefaultTimeout   = 5 * time.Minute
	DefaultRetention = 24 * time.Hour
)

type Client struct {
	client *asynq.Client
	opts   Options
}

func NewClient(redisOpt asynq.RedisClientOpt, opts Options) *Client {
	if opts.Queue == "" {
		opts.Queue = "default"
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = DefaultMaxRetry
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Client{client: asynq.NewClient(redisOpt), opts: opts}
}

// EnqueueExportSession uses the export id as task id, so a repeated request
// for the same export is rejected by asynq instead of running twice.
// Completed tasks stay inspectable for the retention window.
func (c *Client) EnqueueExportSession(ctx context.Context, payload ExportSessionPayload) (*asynq.TaskInfo, error) {
	task, err := NewExportSessionTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, c.taskOptions(payload.ExportID)...)
}

func (c *Client) taskOptions(exportID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(c.opts.Queue),
		asynq.TaskID(exportID),
		asynq.MaxRetry(c.opts.MaxRetry),
		asynq.Timeout(c.opts.Timeout),
		asynq.Retention(c.opts.Retention),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}
