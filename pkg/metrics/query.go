package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// JobMetrics represents aggregated metrics for one job.
type JobMetrics struct {
	JobID        string           `json:"job_id"`
	Cycles       int64            `json:"cycles"`
	PromptTokens int64            `json:"prompt_tokens"`
	Actions      map[string]int64 `json:"actions"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}

// GetJobMetrics retrieves cycle, action and prompt token totals for a job.
func (q *QueryService) GetJobMetrics(ctx context.Context, jobID string) (*JobMetrics, error) {
	metrics := &JobMetrics{JobID: jobID, Actions: make(map[string]int64)}

	cycles, err := q.scalar(ctx, fmt.Sprintf(`sum(omegaclaw_cycles_total{job_id=%q})`, jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	metrics.Cycles = cycles

	tokens, err := q.scalar(ctx, fmt.Sprintf(`sum(omegaclaw_prompt_tokens_total{job_id=%q})`, jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	metrics.PromptTokens = tokens

	byAction := fmt.Sprintf(`sum by (action) (omegaclaw_cycles_total{job_id=%q})`, jobID)
	result, _, err := q.queryAPI.Query(ctx, byAction, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if action, ok := sample.Metric["action"]; ok {
				metrics.Actions[string(action)] = int64(sample.Value)
			}
		}
	}

	return metrics, nil
}

// GetAllJobMetrics retrieves metrics for every job that has recorded cycles.
func (q *QueryService) GetAllJobMetrics(ctx context.Context) (map[string]*JobMetrics, error) {
	out := make(map[string]*JobMetrics)

	jobsResult, _, err := q.queryAPI.Query(ctx, `group by (job_id) (omegaclaw_cycles_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	var jobIDs []string
	if vector, ok := jobsResult.(model.Vector); ok {
		for _, sample := range vector {
			if id, ok := sample.Metric["job_id"]; ok {
				jobIDs = append(jobIDs, string(id))
			}
		}
	}

	for _, id := range jobIDs {
		m, err := q.GetJobMetrics(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to query job %s: %w", id, err)
		}
		out[id] = m
	}
	return out, nil
}
