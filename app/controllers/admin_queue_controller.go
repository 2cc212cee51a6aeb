package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nestgold/nestgold/app/repository"
	"github.com/nestgold/nestgold/internal/pkg/jobqueue"
)

// ============================================================================
// ADMIN QUEUE CONTROLLER - Repository Pattern
// ============================================================================

// QueueStats is the part of the job queue the monitor reads.
type QueueStats interface {
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
}

// QueueItem is one Redis key shown in the queue monitor.
type QueueItem struct {
	Key    string        `json:"key"`
	Type   string        `json:"type"`
	Status string        `json:"status,omitempty"`
	Detail string        `json:"detail,omitempty"`
	TTL    time.Duration `json:"ttl_ns"`
	Size   int64         `json:"size"`
}

// AdminQueueController exposes the background job queue to admins.
type AdminQueueController struct {
	queueRepo repository.QueueRepository
	stats     QueueStats
}

// NewAdminQueueController creates a new admin queue controller; stats may be
// nil when the queue is not running.
func NewAdminQueueController(queueRepo repository.QueueRepository, stats QueueStats) *AdminQueueController {
	return &AdminQueueController{queueRepo: queueRepo, stats: stats}
}

// HandleAdminQueues lists job keys with their status and queue counters.
func (aqc *AdminQueueController) HandleAdminQueues(c *fiber.Ctx) error {
	items, err := aqc.getQueueItems()
	if err != nil {
		return respondError(c, err)
	}

	out := fiber.Map{"items": items}
	if aqc.stats != nil {
		ctx, cancel := requestContext(c)
		defer cancel()

		stats, err := aqc.stats.GetJobStats(ctx)
		if err != nil {
			return respondError(c, err)
		}
		pending, _ := aqc.stats.GetQueueSize(ctx)
		processing, _ := aqc.stats.GetProcessingSize(ctx)
		out["stats"] = stats
		out["pending"] = pending
		out["processing"] = processing
	}
	return c.JSON(out)
}

// HandleAdminQueueDelete deletes one job key.
func (aqc *AdminQueueController) HandleAdminQueueDelete(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Params("key"))
	if !strings.HasPrefix(key, jobqueue.JobKeyPrefix) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "only job keys can be deleted"})
	}

	deleted, err := aqc.queueRepo.DeleteKeys([]string{key})
	if err != nil {
		return respondError(c, err)
	}
	if deleted == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "key not found"})
	}
	return c.JSON(fiber.Map{"deleted": deleted})
}

func (aqc *AdminQueueController) getQueueItems() ([]QueueItem, error) {
	keys, err := aqc.queueRepo.FindKeysByPatterns([]string{jobqueue.JobKeyPrefix + "*", jobqueue.JobQueueKey, jobqueue.JobProcessingKey})
	if err != nil {
		return nil, err
	}

	items := make([]QueueItem, 0, len(keys))
	for _, key := range keys {
		ttl, err := aqc.queueRepo.GetTTL(key)
		if err != nil {
			ttl = -1
		}
		item := QueueItem{Key: key, TTL: ttl}

		switch {
		case key == jobqueue.JobQueueKey || key == jobqueue.JobProcessingKey:
			item.Type = key
			item.Size, _ = aqc.queueRepo.GetListLength(key)
		case strings.HasPrefix(key, jobqueue.JobKeyPrefix):
			value, err := aqc.queueRepo.GetValue(key)
			if err != nil && !errors.Is(err, redis.Nil) {
				// Skip this key if there's an error other than key not found
				continue
			}
			item.Type = "job"
			item.Size = int64(len(value))
			var job jobqueue.Job
			if err := json.Unmarshal([]byte(value), &job); err == nil {
				item.Status = string(job.Status)
				item.Detail = string(job.Type)
				if job.ErrorMsg != "" {
					item.Detail += ": " + job.ErrorMsg
				}
			}
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Type != items[j].Type {
			return items[i].Type < items[j].Type
		}
		return items[i].Key < items[j].Key
	})
	return items, nil
}
