package provider

import (
	"context"
	"errors"
	"strings"

	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// ErrNotPresent is returned by a Source whose wallet is not available in
// this environment. Connect moves on to the next source.
var ErrNotPresent = errors.New("wallet source not present")

// Source opens one kind of wallet provider.
type Source struct {
	Name string
	Open func(ctx context.Context) (Provider, error)
}

// Connect returns an adapter over the first present source, trying sources
// in order. Sources that report ErrNotPresent are skipped; any other
// failure aborts detection.
func Connect(ctx context.Context, logger LogWriter, sources ...Source) (*Adapter, error) {
	if logger == nil {
		logger = nopLogger{}
	}

	tried := make([]string, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, imalierr.WithCause(imalierr.ErrProviderRequestFailed, err)
		}

		tried = append(tried, src.Name)
		p, err := src.Open(ctx)
		if errors.Is(err, ErrNotPresent) {
			logger.Debug("wallet source %s not present", src.Name)
			continue
		}
		if err != nil {
			return nil, imalierr.WithDetails(imalierr.WithCause(imalierr.ErrProviderRequestFailed, err),
				map[string]string{"source": src.Name})
		}

		logger.Debug("using wallet source %s", src.Name)
		return NewAdapter(src.Name, p, logger), nil
	}

	err := imalierr.WithDetails(imalierr.ErrNoWalletDetected, map[string]string{"tried": strings.Join(tried, ",")})
	return nil, imalierr.WithSuggestion(err,
		"Create a local wallet with 'imali wallet init' or set IMALI_REMOTE_URL to a wallet bridge")
}
