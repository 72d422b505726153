package forward

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESSender delivers raw messages through the SES v2 API.
type SESSender struct {
	client *sesv2.Client
}

// NewSESSender wraps an SES client.
func NewSESSender(client *sesv2.Client) *SESSender {
	return &SESSender{client: client}
}

func (s *SESSender) SendRaw(ctx context.Context, source string, destinations []string, raw []byte) error {
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(source),
		Destination: &types.Destination{
			ToAddresses: destinations,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return fmt.Errorf("forward: ses send: %w", err)
	}
	return nil
}
