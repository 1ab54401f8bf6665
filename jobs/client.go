package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// dedupeWindow suppresses repeated triggers of the same task and hotel.
const dedupeWindow = time.Minute

// Client submits tasks to the default queue.
type Client struct {
	client *asynq.Client
}

func NewClient(redis asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redis)}
}

// Enqueue submits a task built by NewTask.
func (c *Client) Enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	if task == nil {
		return nil, errors.New("jobs: nil task")
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.Unique(dedupeWindow))
}

func (c *Client) Close() error {
	return c.client.Close()
}
