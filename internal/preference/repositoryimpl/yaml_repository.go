package repositoryimpl

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/fieldguild/internal/preference"
	"github.com/kazz187/fieldguild/pkg/cerr"
	"github.com/kazz187/fieldguild/pkg/storage"
)

const languagePath = "preferences/language.yaml"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func (r *YAMLRepository) Get(ctx context.Context) (*preference.Preference, error) {
	data, err := r.storage.Read(ctx, languagePath)
	if err != nil {
		return nil, cerr.WrapStorageReadError("language preference", err)
	}
	var p preference.Preference
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, cerr.WrapCorruptError("language preference", err)
	}
	return &p, nil
}

func (r *YAMLRepository) Save(ctx context.Context, p *preference.Preference) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to encode language preference", fmt.Errorf("failed to marshal preference: %w", err))
	}
	if err := r.storage.Write(ctx, languagePath, data); err != nil {
		return cerr.WrapStorageWriteError("language preference", err)
	}
	return nil
}
