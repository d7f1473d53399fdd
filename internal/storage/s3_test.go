package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	failPuts int
	puts     int
	objects  map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts++
	if f.puts <= f.failPuts {
		return nil, errors.New("slow down")
	}
	data, _ := io.ReadAll(in.Body)
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("no such key")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestReportKey(t *testing.T) {
	rs := NewReportStore(NewReportStoreParams{})
	if got := rs.ReportKey("abc"); got != "reports/abc.json" {
		t.Fatalf("key = %q", got)
	}
	rs = NewReportStore(NewReportStoreParams{Prefix: "/nightly/"})
	if got := rs.ReportKey("abc"); got != "nightly/abc.json" {
		t.Fatalf("key = %q", got)
	}
}

func TestUploadReport_RetriesThenStores(t *testing.T) {
	fake := &fakeS3{failPuts: 2}
	rs := NewReportStore(NewReportStoreParams{Bucket: "regnet", RetryBase: time.Millisecond})
	rs.api = fake

	key, err := rs.UploadReport(context.Background(), "pass-1", []byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.puts != 3 {
		t.Fatalf("puts = %d, want 3", fake.puts)
	}
	got, err := rs.GetReport(context.Background(), key)
	if err != nil || string(got) != `{"ok":true}` {
		t.Fatalf("report = %q, err = %v", got, err)
	}
	if err := rs.DeleteReport(context.Background(), key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := rs.GetReport(context.Background(), key); err == nil {
		t.Fatal("expected error after delete")
	}
}

func TestUploadReport_GivesUp(t *testing.T) {
	fake := &fakeS3{failPuts: 10}
	rs := NewReportStore(NewReportStoreParams{RetryBase: time.Millisecond})
	rs.api = fake

	if _, err := rs.UploadReport(context.Background(), "pass-2", []byte("{}")); err == nil {
		t.Fatal("expected error")
	}
	if fake.puts != uploadTries {
		t.Fatalf("puts = %d, want %d", fake.puts, uploadTries)
	}
}

func TestUnconfiguredClient(t *testing.T) {
	rs := NewReportStore(NewReportStoreParams{})
	if _, err := rs.UploadReport(context.Background(), "x", nil); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := rs.DownloadLink(context.Background(), "reports/x.json"); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestSplitPublicEndpoint(t *testing.T) {
	tests := []struct {
		in, base, prefix string
		wantErr          bool
	}{
		{in: "https://files.example.org", base: "https://files.example.org"},
		{in: "https://example.org/s3/", base: "https://example.org", prefix: "/s3"},
		{in: "example.org", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			base, prefix, err := splitPublicEndpoint(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil || base != tt.base || prefix != tt.prefix {
				t.Fatalf("got (%q, %q, %v)", base, prefix, err)
			}
		})
	}
}

func TestDownloadLink_PresignsAgainstPublicEndpoint(t *testing.T) {
	client := s3.New(s3.Options{
		Region:      "eu-central-1",
		Credentials: credentials.NewStaticCredentialsProvider("access", "secret", ""),
	})
	rs := NewReportStore(NewReportStoreParams{
		Client:         client,
		Bucket:         "regnet",
		PublicEndpoint: "https://example.org/s3",
	})

	link, err := rs.DownloadLink(context.Background(), "reports/pass-1.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(link, "https://example.org/s3/regnet/reports/pass-1.json?") {
		t.Fatalf("unexpected link %q", link)
	}
	if !strings.Contains(link, "X-Amz-Signature=") || !strings.Contains(link, "X-Amz-Expires=900") {
		t.Fatalf("link is not presigned: %q", link)
	}
}
