package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"whatsapp-hub/config"
	"whatsapp-hub/internal/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	configv2 "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// EventExporter envia eventos de mensagem para consumidores externos.
type EventExporter interface {
	Export(ctx context.Context, evt ExportedEvent) error
}

type ExportedEvent struct {
	Type       string      `json:"type"`
	CompanyID  string      `json:"companyId"`
	SessionID  string      `json:"sessionId"`
	ProtocolID string      `json:"protocolId"`
	Data       interface{} `json:"data"`
	OccurredAt time.Time   `json:"occurredAt"`
}

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSExporter struct {
	client   sqsSender
	queueURL string
}

// NewSQSClient usa credenciais estáticas de teste quando há endpoint do LocalStack.
func NewSQSClient(ctx context.Context, cfg config.SQSConfig) (*sqs.Client, error) {
	opts := []func(*configv2.LoadOptions) error{
		configv2.WithRegion(cfg.Region),
	}
	if cfg.LocalstackEndpoint != "" {
		opts = append(opts, configv2.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	awsCfg, err := configv2.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.LocalstackEndpoint != "" {
		return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.LocalstackEndpoint)
		}), nil
	}
	return sqs.NewFromConfig(awsCfg), nil
}

func NewSQSExporter(client sqsSender, queueURL string) *SQSExporter {
	return &SQSExporter{client: client, queueURL: queueURL}
}

func (e *SQSExporter) Export(ctx context.Context, evt ExportedEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(e.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if isFIFO(e.queueURL) {
		input.MessageGroupId = aws.String(evt.SessionID)
		input.MessageDeduplicationId = aws.String(fmt.Sprintf("%s:%s:%s", evt.Type, evt.SessionID, evt.ProtocolID))
	}
	if _, err := e.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("erro ao exportar evento %s: %w", evt.Type, err)
	}
	utils.LogDebug("Evento %s exportado para a fila", evt.Type)
	return nil
}

func isFIFO(queueURL string) bool {
	return strings.HasSuffix(queueURL, ".fifo")
}
