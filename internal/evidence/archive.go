package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/kazz187/fieldguild/pkg/cerr"
	"github.com/kazz187/fieldguild/pkg/storage"
)

const archivePrefix = "evidence"

// Record is the YAML sidecar written next to every archived photo.
type Record struct {
	ID          string    `yaml:"id"`
	TaskID      string    `yaml:"task_id"`
	File        string    `yaml:"file"`
	FileName    string    `yaml:"file_name"`
	ContentType string    `yaml:"content_type"`
	Latitude    float64   `yaml:"latitude"`
	Longitude   float64   `yaml:"longitude"`
	Note        string    `yaml:"note,omitempty"`
	ArchivedAt  time.Time `yaml:"archived_at"`
}

// Archive keeps a copy of evidence the server accepted.
type Archive struct {
	storage storage.Storage
}

func NewArchive(s storage.Storage) *Archive {
	return &Archive{storage: s}
}

func taskDir(taskID string) string {
	return archivePrefix + "/" + strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(taskID)
}

// Save writes the photo and its sidecar and returns the sidecar path.
func (a *Archive) Save(ctx context.Context, sub *Submission) (string, error) {
	if err := sub.Validate(); err != nil {
		return "", err
	}
	id := ulid.Make().String()
	dir := taskDir(sub.TaskID)
	photoPath := dir + "/" + id + Extension(sub.Photo.ContentType)
	if err := a.storage.Write(ctx, photoPath, sub.Photo.Data); err != nil {
		return "", cerr.WrapStorageWriteError("evidence photo", err)
	}

	rec := Record{
		ID:          id,
		TaskID:      sub.TaskID,
		File:        photoPath,
		FileName:    sub.Photo.FileName,
		ContentType: sub.Photo.ContentType,
		Latitude:    sub.Latitude,
		Longitude:   sub.Longitude,
		Note:        sub.Note,
		ArchivedAt:  time.Now().UTC(),
	}
	data, err := yaml.Marshal(&rec)
	if err != nil {
		return "", cerr.NewError(cerr.Internal, "failed to encode evidence record", err)
	}
	recordPath := dir + "/" + id + ".yaml"
	if err := a.storage.Write(ctx, recordPath, data); err != nil {
		return "", cerr.WrapStorageWriteError("evidence record", err)
	}
	slog.DebugContext(ctx, "evidence archived", "task_id", sub.TaskID, "path", recordPath)
	return recordPath, nil
}

// List returns the archived records of a task, oldest first.
func (a *Archive) List(ctx context.Context, taskID string) ([]*Record, error) {
	paths, err := a.storage.List(ctx, taskDir(taskID))
	if err != nil {
		return nil, cerr.WrapStorageReadError(fmt.Sprintf("evidence of %s", taskID), err)
	}
	var records []*Record
	for _, p := range paths {
		if !strings.HasSuffix(p, ".yaml") {
			continue
		}
		data, err := a.storage.Read(ctx, p)
		if err != nil {
			return nil, cerr.WrapStorageReadError(p, err)
		}
		var rec Record
		if err := yaml.Unmarshal(data, &rec); err != nil {
			slog.WarnContext(ctx, "skipping unreadable evidence record", "path", p, "error", err)
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}
