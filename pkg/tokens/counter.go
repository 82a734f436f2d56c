// Package tokens estimates how much of a model's context a transcript uses.
package tokens

import (
	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

const (
	// per-message framing and reply priming of the chat completion format
	messageOverhead = 4
	replyPriming    = 3
)

type Counter struct {
	codec tokenizer.Codec
}

// NewCounter picks the codec of model. Models tiktoken does not know, which
// includes every non-OpenAI model, are counted with cl100k_base as an
// approximation.
func NewCounter(model string) (*Counter, error) {
	if model != "" {
		c, err := tokenizer.ForModel(tokenizer.Model(model))
		if err == nil {
			return &Counter{codec: c}, nil
		}
		log.Debug().Str("model", model).Msg("No tokenizer for model, using cl100k_base")
	}
	c, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, errors.Wrap(err, "could not create tokenizer")
	}
	return &Counter{codec: c}, nil
}

func (c *Counter) Name() string {
	return c.codec.GetName()
}

func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		log.Warn().Err(err).Msg("Could not encode text")
		return 0
	}
	return len(ids)
}

// CountMessages estimates the prompt tokens of a whole transcript.
func (c *Counter) CountMessages(msgs []conversation.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	total := replyPriming
	for _, m := range msgs {
		total += messageOverhead + c.Count(m.Role.String()) + c.Count(m.Text)
	}
	return total
}
