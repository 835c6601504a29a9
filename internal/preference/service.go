package preference

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/kazz187/fieldguild/pkg/cerr"
)

// Supported lists the languages the worker app ships strings for.
var Supported = []language.Tag{
	language.English,
	language.Hindi,
	language.Gujarati,
	language.Marathi,
}

type Service struct {
	repo     Repository
	matcher  language.Matcher
	fallback language.Tag
}

// NewService returns a service that falls back to defaultCode when nothing
// has been chosen yet. An unsupported defaultCode falls back to English.
func NewService(repo Repository, defaultCode string) *Service {
	s := &Service{
		repo:     repo,
		matcher:  language.NewMatcher(Supported),
		fallback: language.English,
	}
	if tag, err := s.match(defaultCode); err == nil {
		s.fallback = tag
	}
	return s
}

func (s *Service) match(code string) (language.Tag, error) {
	requested, err := language.Parse(code)
	if err != nil {
		return language.Und, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown language %q", code), err)
	}
	_, idx, conf := s.matcher.Match(requested)
	if conf == language.No {
		return language.Und, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("language %q is not supported", code), nil)
	}
	return Supported[idx], nil
}

func label(tag language.Tag) string {
	return display.Self.Name(tag)
}

func toPreference(tag language.Tag) *Preference {
	return &Preference{LanguageCode: tag.String(), DisplayLabel: label(tag)}
}

// Options returns every supported language with its native label.
func (s *Service) Options() []*Preference {
	out := make([]*Preference, 0, len(Supported))
	for _, tag := range Supported {
		out = append(out, toPreference(tag))
	}
	return out
}

// Current never fails. Unreadable preferences are logged and the default
// language is returned.
func (s *Service) Current(ctx context.Context) *Preference {
	p, err := s.repo.Get(ctx)
	if err != nil {
		if !cerr.IsCode(err, cerr.NotFound) {
			slog.WarnContext(ctx, "failed to load language preference", "error", err)
		}
		return toPreference(s.fallback)
	}
	tag, err := s.match(p.LanguageCode)
	if err != nil {
		slog.WarnContext(ctx, "ignoring stored language preference", "language", p.LanguageCode, "error", err)
		return toPreference(s.fallback)
	}
	return toPreference(tag)
}

func (s *Service) Set(ctx context.Context, code string) (*Preference, error) {
	tag, err := s.match(code)
	if err != nil {
		return nil, err
	}
	p := toPreference(tag)
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
