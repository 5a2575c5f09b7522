// Package archive mirrors every activated configuration to S3-compatible
// object storage, content-addressed by its configuration hash. It is a
// best-effort side channel for operators and auditors: nothing on the
// consensus-critical path waits on it, and a failed archive write never
// blocks block application.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rechain/configchain/internal/configuration"
	"github.com/rechain/configchain/pkg/crypto"
)

// Archiver stores activated configurations in an S3-compatible bucket,
// keyed by their content hash.
type Archiver struct {
	client *minio.Client
	bucket string
}

// Record is the archived envelope for one activated configuration.
type Record struct {
	Hash            crypto.Hash                      `json:"hash"`
	ActivatedHeight uint64                            `json:"activated_height"`
	Config          *configuration.StoredConfiguration `json:"config"`
}

// NewArchiver creates an Archiver against an existing or freshly-created
// bucket.
func NewArchiver(endpoint, accessKey, secretKey, bucket string, secure bool) (*Archiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	a := &Archiver{client: client, bucket: bucket}
	if err := a.ensureBucket(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	return a, nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return err
	}
	log.Printf("archive: created bucket %s", a.bucket)
	return nil
}

func objectKey(hash crypto.Hash) string {
	hex := hash.String()
	return path.Join("configurations", hex[:2], hex[2:4], hex+".json")
}

// Store archives cfg under its content hash. Callers treat a non-nil
// error as a warning, not a reason to fail block application — see
// archiveActivation in internal/consensus.
func (a *Archiver) Store(ctx context.Context, hash crypto.Hash, activatedHeight uint64, cfg *configuration.StoredConfiguration) error {
	rec := Record{Hash: hash, ActivatedHeight: activatedHeight, Config: cfg}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode archive record: %w", err)
	}

	key := objectKey(hash)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put archive object %s: %w", key, err)
	}

	log.Printf("archive: stored configuration %s (activated at height %d)", hash, activatedHeight)
	return nil
}

// Fetch retrieves a previously archived record by configuration hash.
func (a *Archiver) Fetch(ctx context.Context, hash crypto.Hash) (*Record, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, objectKey(hash), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get archive object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read archive object: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode archive record: %w", err)
	}
	return &rec, nil
}
