package sources

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
)

// Factory resolves source descriptors into readable catalog sources
type Factory struct {
	config *common.SourcesConfig
	logger arbor.ILogger
}

func NewFactory(logger arbor.ILogger, cfg *common.SourcesConfig) *Factory {
	return &Factory{
		config: cfg,
		logger: logger,
	}
}

func (f *Factory) Open(ctx context.Context, desc models.SourceDescriptor) (interfaces.Source, error) {
	switch desc.Type {
	case models.SourceTypeCSV:
		if desc.Location == "" {
			return nil, fmt.Errorf("csv source requires a file path")
		}
		return NewCSVSource(desc.Location, desc.Options), nil
	case models.SourceTypeIMAP:
		opts := desc.Options
		if opts == nil {
			opts = map[string]string{}
		}
		if desc.Location != "" && opts["subject"] == "" {
			opts["subject"] = desc.Location
		}
		return NewIMAPSource(f.logger, &f.config.IMAP, opts), nil
	case models.SourceTypeAPI:
		if desc.Location == "" {
			return nil, fmt.Errorf("api source requires a URL")
		}
		return NewAPISource(f.logger, desc.Location, desc.Options), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", desc.Type)
	}
}
