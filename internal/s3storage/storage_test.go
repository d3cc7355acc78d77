package s3storage

import (
	"testing"

	"github.com/dharsanguruparan/VKYCVault/internal/config"
)

func TestKeyLayout(t *testing.T) {
	s, err := New(&config.Config{
		S3Endpoint: "localhost:9000",
		S3Bucket:   "recordings",
		S3Prefix:   "vkyc/",
		ObjectExt:  ".mp4",
		S3Region:   "us-east-1",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := s.key("LAN42"); got != "vkyc/LAN42.mp4" {
		t.Fatalf("key = %q", got)
	}
}
