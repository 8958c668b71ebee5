package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Fallback uses Secondary whenever Primary finds nothing.
type Fallback struct {
	Primary   Discoverer
	Secondary Discoverer
	Logger    *zap.Logger
}

// Discover never surfaces an error from Primary.
func (f *Fallback) Discover(ctx context.Context, date time.Time) ([]string, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	urls, err := f.Primary.Discover(ctx, date)
	if err == nil && len(urls) > 0 {
		return urls, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logger.Warn("primary discovery found nothing, using fallback",
		zap.String("date", date.Format("20060102")),
		zap.Error(err))
	return f.Secondary.Discover(ctx, date)
}
