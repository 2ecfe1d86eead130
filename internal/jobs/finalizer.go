package jobs

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
)

// Finalizer combines an export job's per-chunk fragments into the single
// artifact once every chunk has completed. Fragments are ordered by the
// chunk index embedded in their name because storage listing order is not
// stable. Fragments are deleted only after the combined artifact write
// succeeds; a combination failure fails the job and leaves them intact.
type Finalizer struct {
	jobs      interfaces.JobStorage
	artifacts interfaces.ArtifactStorage
	events    interfaces.EventService
	logger    arbor.ILogger
}

func NewFinalizer(logger arbor.ILogger, jobStore interfaces.JobStorage, artifacts interfaces.ArtifactStorage, events interfaces.EventService) *Finalizer {
	return &Finalizer{
		jobs:      jobStore,
		artifacts: artifacts,
		events:    events,
		logger:    logger.WithPrefix("finalizer"),
	}
}

// Finalize combines fragments and completes the job. Replaying on an
// already completed job is a no-op.
func (f *Finalizer) Finalize(ctx context.Context, jobID string) (string, error) {
	job, err := f.jobs.GetJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status == models.JobStatusCompleted {
		return job.ArtifactLocation, nil
	}
	if job.Status == models.JobStatusFailed {
		return "", fmt.Errorf("job %s already failed: %s", jobID, job.Error)
	}
	if job.ProgressCurrent != job.ProgressTotal {
		return "", fmt.Errorf("job %s is not fully processed (%d/%d)", jobID, job.ProgressCurrent, job.ProgressTotal)
	}

	location, err := f.combine(ctx, job)
	if err != nil {
		if _, casErr := f.jobs.CompareAndSetStatus(ctx, jobID, models.JobStatusProcessing, models.JobStatusFailed, "finalization failed: "+err.Error()); casErr != nil {
			f.logger.Error().Err(casErr).Str("job", jobID).Msg("Failed to record finalization failure")
		}
		f.publishFailed(ctx, jobID, err)
		return "", err
	}

	// Store the location before the status flip so a completed job is
	// never observed without its artifact
	job, err = f.jobs.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	job.ArtifactLocation = location
	if err := f.jobs.SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to store artifact location: %w", err)
	}

	ok, err := f.jobs.CompareAndSetStatus(ctx, jobID, models.JobStatusProcessing, models.JobStatusCompleted, "")
	if err != nil {
		return "", err
	}
	if !ok {
		// A concurrent replay finalized first; its artifact stands
		return location, nil
	}

	// Fragments go only now, after the artifact write and completion
	if err := f.artifacts.DeleteFragments(ctx, jobID); err != nil {
		f.logger.Warn().Err(err).Str("job", jobID).Msg("Failed to clean up fragments, artifact is intact")
	}

	f.events.Publish(ctx, models.Event{
		Type:  models.EventJobCompleted,
		JobID: jobID,
		Payload: map[string]interface{}{
			"artifact_location": location,
		},
		Timestamp: time.Now(),
	})

	f.logger.Info().
		Str("job", jobID).
		Str("artifact", location).
		Msg("Export finalized")
	return location, nil
}

// combine concatenates fragment bodies under one header in index order
func (f *Finalizer) combine(ctx context.Context, job *models.Job) (string, error) {
	names, err := f.artifacts.ListFragments(ctx, job.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list fragments: %w", err)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no fragments found for job %s", job.ID)
	}

	ordered, err := sortByChunkIndex(names)
	if err != nil {
		return "", err
	}

	var combined bytes.Buffer
	for i, name := range ordered {
		data, err := f.artifacts.ReadFragment(ctx, job.ID, name)
		if err != nil {
			return "", err
		}
		body := data
		if i > 0 {
			body = stripHeaderLine(data)
		}
		combined.Write(body)
	}

	location, err := f.artifacts.WriteArtifact(ctx, job.ID, combined.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to write combined artifact: %w", err)
	}
	return location, nil
}

func (f *Finalizer) publishFailed(ctx context.Context, jobID string, cause error) {
	f.events.Publish(ctx, models.Event{
		Type:  models.EventJobFailed,
		JobID: jobID,
		Payload: map[string]interface{}{
			"error": cause.Error(),
		},
		Timestamp: time.Now(),
	})
}

// sortByChunkIndex orders fragment names by their embedded index.
// A name that does not parse is a corruption signal, not something to
// sort best-effort.
func sortByChunkIndex(names []string) ([]string, error) {
	type indexed struct {
		name  string
		index int
	}
	parsed := make([]indexed, 0, len(names))
	for _, name := range names {
		idx, err := parseChunkIndex(name)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, indexed{name: name, index: idx})
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].index < parsed[j].index })

	ordered := make([]string, len(parsed))
	for i, p := range parsed {
		ordered[i] = p.name
	}
	return ordered, nil
}

func parseChunkIndex(name string) (int, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "chunk_"), ".csv")
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("unparseable fragment name %q: %w", name, err)
	}
	return idx, nil
}

func stripHeaderLine(data []byte) []byte {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return data[i+1:]
	}
	return nil
}
