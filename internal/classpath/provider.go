// Package classpath finds the compiled classes of an application and feeds
// their structural analyses into the shared cache.
package classpath

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/coverage-analysis/internal/contenttype"
	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/utils"
)

// Unit is the raw content of one compiled class.
type Unit struct {
	// Origin is the file path, or "archive@entry" for archive members.
	Origin string
	Data   []byte
}

// Provider collects classes from class files, directories and archives.
// Archives may be nested and compressed.
type Provider struct {
	logger utils.Logger
}

// NewProvider creates a provider.
func NewProvider(logger utils.Logger) *Provider {
	return &Provider{logger: utils.OrGlobal(logger)}
}

// Collect returns every class found below paths, in walk order. A missing
// path is an error; an unreadable archive is logged and the classes read
// before the failure are kept.
func (p *Provider) Collect(ctx context.Context, paths ...string) ([]Unit, error) {
	var units []Unit
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		before := len(units)
		err := contenttype.WalkPath(path, func(origin string, t contenttype.Type, r io.Reader) error {
			if t != contenttype.Class {
				return nil
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("%s: %w", origin, err)
			}
			units = append(units, Unit{Origin: origin, Data: data})
			return ctx.Err()
		})
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist):
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("class location %s not found", path), err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			p.logger.Warn("skipping rest of %s: %v", path, err)
		}
		p.logger.Debug("collected %d classes from %s", len(units)-before, path)
	}
	return units, nil
}
