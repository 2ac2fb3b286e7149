package dataset

import (
	"context"
	"path"

	"legal-rag-go/pkg/log"
	"legal-rag-go/pkg/storage"

	"github.com/minio/minio-go/v7"
)

type minioSource struct {
	client    *minio.Client
	bucket    string
	prefix    string
	textField string
}

// NewMinIO reads <prefix>/<dataset>/<split>.jsonl from a bucket.
func NewMinIO(client *minio.Client, bucket, prefix, textField string) Source {
	return &minioSource{client: client, bucket: bucket, prefix: prefix, textField: textField}
}

func objectName(prefix, name, split string) string {
	return path.Join(prefix, name, split+".jsonl")
}

func (s *minioSource) Load(ctx context.Context, name, split string, limit int) ([]string, error) {
	object := objectName(s.prefix, name, split)
	log.Infof("[Dataset] 从 MinIO 读取数据集, Bucket: %s, Object: %s", s.bucket, object)
	rc, err := storage.OpenObject(ctx, s.client, s.bucket, object)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readJSONL(rc, s.textField, limit)
}
