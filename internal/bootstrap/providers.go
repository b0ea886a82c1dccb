package bootstrap

import (
	"context"
	"net/http"
	"strings"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/infra/credentials"
	"cardgen/internal/providers"
	"cardgen/internal/providers/gemini"
	"cardgen/internal/providers/kling"
	"cardgen/internal/providers/openai"
	"cardgen/internal/providers/synthetic"
)

// KeySource resolves a provider secret, preferring the configured value.
type KeySource interface {
	Resolve(ctx context.Context, provider, configured string) (string, error)
}

// BuildProviders registers every provider that has credentials. The synthetic
// provider is always registered so local setups work without keys.
func BuildProviders(ctx context.Context, cfg *infra.Config, keys KeySource, client *http.Client, logger *infra.Logger) *providers.Registry {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	if keys == nil {
		keys = (*credentials.Store)(nil)
	}
	reg := providers.NewRegistry()

	resolve := func(name, configured string) string {
		key, err := keys.Resolve(ctx, name, configured)
		if err != nil {
			logger.Warn().Err(err).Str("provider", name).Msg("bootstrap: provider key lookup failed")
			return ""
		}
		return key
	}

	if key := resolve(credentials.ProviderOpenAI, cfg.OpenAIAPIKey); key != "" {
		c, err := openai.NewClient(openai.Options{
			APIKey:       key,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrg,
			ChatModel:    cfg.OpenAIChatModel,
			ImageModel:   cfg.OpenAIImageModel,
			HTTPClient:   client,
			Logger:       logger,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("bootstrap: openai disabled")
		} else {
			reg.RegisterSync(c)
		}
	}

	if key := resolve(credentials.ProviderGemini, cfg.GeminiAPIKey); key != "" {
		c, err := gemini.NewClient(gemini.Options{
			APIKey:     key,
			BaseURL:    cfg.GeminiBaseURL,
			Model:      cfg.GeminiModel,
			HTTPClient: client,
			Logger:     logger,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("bootstrap: gemini disabled")
		} else {
			reg.RegisterSync(c, "gemini-2.5-flash", c.Model())
		}
	}

	access := resolve(credentials.ProviderKlingAccess, cfg.KlingAccessKey)
	secret := resolve(credentials.ProviderKlingSecret, cfg.KlingSecretKey)
	if access != "" && secret != "" {
		c, err := kling.NewClient(kling.Options{
			AccessKey:  access,
			SecretKey:  secret,
			BaseURL:    cfg.KlingBaseURL,
			Model:      cfg.KlingModel,
			HTTPClient: client,
			Logger:     logger,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("bootstrap: kling disabled")
		} else {
			reg.RegisterAsync(c)
		}
	}

	fake := synthetic.New(synthetic.Options{
		ResultBaseURL:  cfg.StorageBaseURL + "/synthetic",
		PollsUntilDone: 2,
		Logger:         logger,
	})
	reg.RegisterSync(fake)
	reg.RegisterAsync(fake)

	logger.Info().Strs("providers", reg.Names()).Msg("bootstrap: providers registered")
	return reg
}

// ProviderAvailable reports whether reg can serve kind with provider.
func ProviderAvailable(reg *providers.Registry) func(kind domain.JobKind, provider string) bool {
	return func(kind domain.JobKind, provider string) bool {
		if kind.Async() {
			_, err := reg.Async(provider)
			return err == nil
		}
		_, err := reg.Sync(provider)
		return err == nil
	}
}

// DefaultProviders maps each kind to its configured provider, falling back to
// the synthetic provider when the configured one is not registered.
func DefaultProviders(cfg *infra.Config, reg *providers.Registry, logger *infra.Logger) map[domain.JobKind]string {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	configured := map[domain.JobKind]string{
		domain.JobKindPhotoSet:    cfg.PhotoProvider,
		domain.JobKindRegenerate:  cfg.PhotoProvider,
		domain.JobKindDescription: cfg.DescriptionProvider,
		domain.JobKindEdit:        cfg.EditProvider,
		domain.JobKindVideo:       cfg.VideoProvider,
	}
	available := ProviderAvailable(reg)
	out := make(map[domain.JobKind]string, len(configured))
	for kind, name := range configured {
		name = strings.ToLower(strings.TrimSpace(name))
		if !available(kind, name) {
			logger.Warn().
				Str("kind", string(kind)).
				Str("provider", name).
				Msg("bootstrap: provider not configured, using synthetic")
			name = "synthetic"
		}
		out[kind] = name
	}
	return out
}
