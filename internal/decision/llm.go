package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aitrade/internal/gateway/provider"
	"aitrade/internal/logger"
	"aitrade/internal/types"
)

// ChatCaller 大模型调用能力，由 provider.OpenAIChatClient 实现。
type ChatCaller interface {
	Call(ctx context.Context, payload provider.ChatPayload) (string, error)
}

// LLMDecider 通过大模型产生决策；任何失败都返回错误与已知的 prompt/raw，由编排层回退为全 hold。
type LLMDecider struct {
	Client     ChatCaller
	Builder    PromptBuilder
	MaxTokens  int
	ExpectJSON bool
}

func NewLLMDecider(client ChatCaller, builder PromptBuilder, maxTokens int, expectJSON bool) *LLMDecider {
	return &LLMDecider{Client: client, Builder: builder, MaxTokens: maxTokens, ExpectJSON: expectJSON}
}

func (d *LLMDecider) Decide(ctx context.Context, input Context) (Result, error) {
	if d == nil || d.Client == nil {
		return Result{}, errors.New("decision: model client not configured")
	}
	builder := d.Builder
	if builder == nil {
		builder = SelectPromptBuilder(input.SystemPrompt)
	}
	system, user, err := builder.Build(ctx, input)
	if err != nil {
		return Result{}, fmt.Errorf("decision: build prompt: %w", err)
	}
	res := Result{Prompt: joinPrompt(system, user)}
	logger.Infof("[decision] 开始决策 coins=%d prompt_len=%d", len(input.Coins), len(res.Prompt))

	raw, err := d.Client.Call(ctx, provider.ChatPayload{
		System:     system,
		User:       user,
		MaxTokens:  d.MaxTokens,
		ExpectJSON: d.ExpectJSON,
	})
	res.Raw = raw
	if err != nil {
		return res, fmt.Errorf("decision: call model: %w", err)
	}
	intents, err := ParseIntents(raw, input.Coins)
	if err != nil {
		return res, err
	}
	res.Intents = intents
	logger.Infof("[decision] 决策完成: %s", summarize(intents))
	return res, nil
}

func joinPrompt(system, user string) string {
	system = strings.TrimSpace(system)
	if system == "" {
		return user
	}
	return system + "\n\n" + user
}

func summarize(intents map[string]types.OrderIntent) string {
	actions, holds := 0, 0
	for _, in := range intents {
		if in.Signal == types.SignalHold {
			holds++
		} else {
			actions++
		}
	}
	return fmt.Sprintf("%d 个操作, %d 个持有", actions, holds)
}
