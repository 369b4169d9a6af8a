package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/inboxpilot/triage/internal/config"
	"github.com/inboxpilot/triage/internal/core"
	"github.com/inboxpilot/triage/internal/factory"
	"github.com/inboxpilot/triage/internal/logging"
	"github.com/inboxpilot/triage/internal/utils"
	"go.uber.org/zap"
)

var (
	// Provider flags
	provider    = flag.String("provider", "openai", "Model provider (bedrock, gemini, openai)")
	maxTokens   = flag.Int("max-tokens", 1000, "Maximum tokens for model response")
	temperature = flag.Float64("temperature", 0.1, "Temperature for model generation")
	topP        = flag.Float64("top-p", 0.9, "Top-p for model generation")
	maxBodySize = flag.Int("max-body-size", 4096, "Maximum email body size to send to the model")
	costPerCall = flag.Float64("cost-per-call", 0.002, "Estimated cost per classifier call in USD")

	// Bedrock flags
	bedrockRegion  = flag.String("bedrock-region", "us-east-1", "AWS region for Bedrock")
	bedrockModelID = flag.String("bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	geminiAPIKey    = flag.String("gemini-api-key", "", "API key for Google Gemini")
	geminiModelName = flag.String("gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	openaiAPIKey    = flag.String("openai-api-key", "", "API key for OpenAI")
	openaiModelName = flag.String("openai-model", "gpt-4o-mini", "OpenAI model name")

	// Input flags
	inputFile  = flag.String("file", "", "Input email file (use stdin if not specified)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog    = flag.Bool("json-log", false, "Output logs in JSON format")
	configFile = flag.String("config", "", "Path to config file (overrides command line flags)")
)

func main() {
	flag.Parse()

	var cfg *config.Config
	var err error

	// Initialize logger
	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration from file if specified
	if *configFile != "" {
		cfg, err = config.New()
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
	} else {
		// Create config from command line flags
		cfg = createConfigFromFlags()
	}

	// Initialize the model provider
	textProcessor := utils.NewTextProcessor(logger)
	providerFactory := factory.NewProviderFactory(cfg, logger, textProcessor)
	modelProvider, err := providerFactory.CreateProvider(core.TierLow)
	if err != nil {
		logger.Fatal("Failed to create model provider", zap.Error(err))
	}

	// Read email from file or stdin
	var emailReader io.Reader
	if *inputFile != "" {
		file, err := os.Open(*inputFile)
		if err != nil {
			logger.Fatal("Failed to open input file", zap.Error(err), zap.String("file", *inputFile))
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", *inputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	// Parse email
	msg, err := mail.ReadMessage(bufio.NewReader(emailReader))
	if err != nil {
		logger.Fatal("Failed to parse email", zap.Error(err))
	}

	from := msg.Header.Get("From")
	to := msg.Header.Get("To")
	subject := msg.Header.Get("Subject")

	bodyBytes, err := io.ReadAll(msg.Body)
	if err != nil {
		logger.Fatal("Failed to read email body", zap.Error(err))
	}

	email := &core.EmailRecord{
		ID:         strings.Trim(msg.Header.Get("Message-ID"), "<>"),
		From:       from,
		To:         strings.Split(to, ","),
		Subject:    subject,
		Body:       string(bodyBytes),
		ReceivedAt: time.Now(),
		Headers:    make(map[string][]string),
	}
	if email.ID == "" {
		email.ID = "cli-input"
	}
	for k, v := range msg.Header {
		email.Headers[k] = v
	}

	// Print email summary
	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", from)
	fmt.Printf("To: %s\n", to)
	fmt.Printf("Subject: %s\n", subject)
	fmt.Printf("Body length: %d bytes\n", len(email.Body))
	fmt.Printf("Fingerprint: %s\n", core.Fingerprint(email, cfg.GetInt("cache.fingerprint_body_bytes")))
	fmt.Printf("\n")

	fmt.Printf("=== Classification ===\n")
	fmt.Printf("Provider: %s\n", cfg.GetString("tiers.low_provider"))

	startTime := time.Now()
	response, err := modelProvider.Classify(context.Background(), email)
	if err != nil {
		logger.Fatal("Failed to classify email", zap.Error(err))
	}
	duration := time.Since(startTime)

	// Print results
	fmt.Printf("\n=== Results ===\n")
	fmt.Printf("Category: %s\n", response.Category)
	fmt.Printf("Urgency: %s\n", core.ParseUrgency(response.Urgency))
	fmt.Printf("Confidence: %.4f\n", response.Confidence)
	fmt.Printf("Cost: $%.4f\n", modelProvider.CostPerCall())
	fmt.Printf("Processing time: %v\n", duration)

	// Close any resources that need closing
	if closer, ok := modelProvider.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close model provider", zap.Error(err))
		}
	}
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	// The CLI classifies one email with one provider, so both tiers
	// point at the same adapter.
	v.Set("tiers.high_provider", *provider)
	v.Set("tiers.low_provider", *provider)
	v.Set("budget.high_tier_cost_estimate", *costPerCall)
	v.Set("budget.low_tier_cost_estimate", *costPerCall)
	v.Set("cache.fingerprint_body_bytes", 256)

	switch *provider {
	case "bedrock":
		v.Set("bedrock.region", *bedrockRegion)
		v.Set("bedrock.model_id", *bedrockModelID)
		v.Set("bedrock.max_tokens", *maxTokens)
		v.Set("bedrock.temperature", *temperature)
		v.Set("bedrock.top_p", *topP)
		v.Set("bedrock.max_body_size", *maxBodySize)
	case "gemini":
		v.Set("gemini.api_key", *geminiAPIKey)
		v.Set("gemini.model_name", *geminiModelName)
		v.Set("gemini.max_tokens", *maxTokens)
		v.Set("gemini.temperature", *temperature)
		v.Set("gemini.top_p", *topP)
		v.Set("gemini.max_body_size", *maxBodySize)
	case "openai":
		v.Set("openai.api_key", *openaiAPIKey)
		v.Set("openai.model_name", *openaiModelName)
		v.Set("openai.max_tokens", *maxTokens)
		v.Set("openai.temperature", *temperature)
		v.Set("openai.top_p", *topP)
		v.Set("openai.max_body_size", *maxBodySize)
	}

	return config.NewFromViper(v)
}
