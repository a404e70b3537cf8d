package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

func init() {
	// Bedrock authenticates with the ambient AWS credential chain.
	RegisterFactory("bedrock", func(cfg Config) (Provider, error) {
		return NewBedrockProvider(context.Background(), cfg.Region)
	})
}

// converser is the part of the Bedrock runtime client used here.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider implements Provider using the Bedrock Converse API
type BedrockProvider struct {
	client converser
}

// NewBedrockProvider loads the default AWS configuration and creates a provider.
// An empty region defers to the AWS configuration chain.
func NewBedrockProvider(ctx context.Context, region string) (*BedrockProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockProvider{client: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

// Name returns the provider name
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// CreateCompletion sends the conversation through Converse
func (p *BedrockProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.Model),
		InferenceConfig: &types.InferenceConfiguration{Temperature: aws.Float32(float32(req.Temperature))},
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}

	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return nil, p.wrapError(err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewProviderError(p.Name(), ErrorCodeEmptyResponse, "no message in response", ErrEmptyResponse)
	}

	var content strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			content.WriteString(text.Value)
		}
	}

	var usage Usage
	if out.Usage != nil {
		usage.PromptTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.CompletionTokens = int(aws.ToInt32(out.Usage.OutputTokens))
		usage.TotalTokens = int(aws.ToInt32(out.Usage.TotalTokens))
	}

	finishReason := string(out.StopReason)
	if out.StopReason == types.StopReasonEndTurn {
		finishReason = "stop"
	}

	return &CompletionResponse{
		Content:      content.String(),
		FinishReason: finishReason,
		Usage:        usage,
		Raw:          out,
	}, nil
}

// wrapError converts Bedrock runtime errors to ProviderError
func (p *BedrockProvider) wrapError(err error) error {
	var (
		throttling   *types.ThrottlingException
		accessDenied *types.AccessDeniedException
		validation   *types.ValidationException
		notFound     *types.ResourceNotFoundException
		timeout      *types.ModelTimeoutException
		internal     *types.InternalServerException
		unavailable  *types.ServiceUnavailableException
		quota        *types.ServiceQuotaExceededException
	)

	code := ErrorCodeUnknown
	switch {
	case errors.As(err, &throttling):
		code = ErrorCodeRateLimit
	case errors.As(err, &accessDenied):
		code = ErrorCodeAuthentication
	case errors.As(err, &validation):
		code = ErrorCodeInvalidRequest
	case errors.As(err, &notFound):
		code = ErrorCodeModelNotFound
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		code = ErrorCodeTimeout
	case errors.As(err, &internal), errors.As(err, &unavailable):
		code = ErrorCodeServerError
	case errors.As(err, &quota):
		code = ErrorCodeQuotaExceeded
	}

	return NewProviderError(p.Name(), code, err.Error(), err)
}
