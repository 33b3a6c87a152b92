package s3service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func (m *memObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	m.objects[key] = data
	m.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *memObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestUploadJSON(t *testing.T) {
	objects := &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
	svc := &Service{client: objects, bucketName: "reports"}

	err := svc.UploadJSON(context.Background(), "runs/npl.json", map[string]int{"processed": 3})
	require.NoError(t, err)

	assert.Equal(t, "application/json", objects.types["reports/runs/npl.json"])
	data, err := svc.DownloadFile(context.Background(), "runs/npl.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"processed": 3}`, string(data))
}

func TestUploadFile_Error(t *testing.T) {
	svc := &Service{client: &memObjects{putErr: errors.New("access denied")}, bucketName: "reports"}

	err := svc.UploadFile(context.Background(), "k", []byte("x"), "text/plain")

	assert.ErrorContains(t, err, "access denied")
}
