package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"travel-time/pkg/logging"
)

type fakeS3 struct {
	objects      map[string][]byte
	contentTypes map[string]string
	failGet      error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = body
	f.contentTypes[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func newTestStore(client s3API) *S3Store {
	logger := logging.NewStructuredLogger("travel-time-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return newS3Store(client, "npmrds", logger)
}

func TestJoinKey(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"archives/", "mar2018cars.zip"}, "archives/mar2018cars.zip"},
		{[]string{"", "mar2018cars.zip"}, "mar2018cars.zip"},
		{[]string{"/output/", "mar-apr2018", "/a.csv"}, "output/mar-apr2018/a.csv"},
	}
	for _, tt := range tests {
		if got := JoinKey(tt.parts...); got != tt.want {
			t.Errorf("JoinKey(%q) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}

func TestS3Store_Download(t *testing.T) {
	client := newFakeS3()
	client.objects["archives/mar2018cars.zip"] = []byte("zip-bytes")
	store := newTestStore(client)

	dest := filepath.Join(t.TempDir(), "work", "mar2018cars.zip")
	if err := store.Download(context.Background(), "archives/mar2018cars.zip", dest); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil || string(got) != "zip-bytes" {
		t.Errorf("downloaded = %q, %v", got, err)
	}

	entries, _ := os.ReadDir(filepath.Dir(dest))
	if len(entries) != 1 {
		t.Errorf("work dir should only hold the archive, found %d entries", len(entries))
	}
}

func TestS3Store_DownloadNotFound(t *testing.T) {
	store := newTestStore(newFakeS3())

	err := store.Download(context.Background(), "archives/absent.zip", filepath.Join(t.TempDir(), "absent.zip"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("error = %v, want ErrObjectNotFound", err)
	}
}

func TestS3Store_DownloadFailure(t *testing.T) {
	client := newFakeS3()
	client.failGet = errors.New("throttled")
	store := newTestStore(client)

	err := store.Download(context.Background(), "k", filepath.Join(t.TempDir(), "k"))
	if err == nil || errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("error = %v, want a generic failure", err)
	}
}

func TestS3Store_UploadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"a.csv":                "x",
		"nested/report.txt":    "y",
		"nested/layer.geojson": "{}",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(name)), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	client := newFakeS3()
	n, err := newTestStore(client).UploadDir(context.Background(), "output/mar2018", dir)
	if err != nil {
		t.Fatalf("UploadDir() error = %v", err)
	}
	if n != 3 {
		t.Errorf("uploaded = %d, want 3", n)
	}

	var keys []string
	for k := range client.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{"output/mar2018/a.csv", "output/mar2018/nested/layer.geojson", "output/mar2018/nested/report.txt"}
	for i := range want {
		if i >= len(keys) || keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
	if client.contentTypes["output/mar2018/nested/layer.geojson"] != "application/geo+json" {
		t.Errorf("content type = %q", client.contentTypes["output/mar2018/nested/layer.geojson"])
	}
}
