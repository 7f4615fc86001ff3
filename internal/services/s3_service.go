package services

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"whatsapp-hub/config"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/utils"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// MediaStore guarda o conteúdo de mídias e devolve a URL pública.
type MediaStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type S3Service struct {
	s3Client *s3.S3
	config   config.S3Config
}

func NewS3Service(cfg config.S3Config) (*S3Service, error) {
	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.ServiceUrl != "" {
		awsCfg.Endpoint = aws.String(cfg.ServiceUrl)
		awsCfg.S3ForcePathStyle = aws.Bool(!strings.Contains(cfg.ServiceUrl, "amazonaws.com"))
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("erro ao criar sessão do S3: %w", err)
	}

	return &S3Service{
		s3Client: s3.New(sess),
		config:   cfg,
	}, nil
}

func (s *S3Service) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	params := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	if _, err := s.s3Client.PutObjectWithContext(ctx, params); err != nil {
		return "", fmt.Errorf("erro ao fazer upload para S3: %w", err)
	}

	fileUrl := fmt.Sprintf("%s/%s", strings.TrimRight(s.config.BucketUrl, "/"), key)
	utils.LogDebug("Upload concluído: %s", fileUrl)
	return fileUrl, nil
}

// MediaKey monta a chave do objeto: empresa/sessão/tipo/id.ext.
func MediaKey(companyID, sessionID string, kind models.MessageKind, protocolID, mimeType, fileName string) string {
	name := protocolID + "." + utils.GetExtensionFromMime(mimeType)
	if kind == models.KindDocument && fileName != "" {
		name = protocolID + "_" + path.Base(fileName)
	}
	return path.Join(companyID, sessionID, string(kind)+"s", name)
}
