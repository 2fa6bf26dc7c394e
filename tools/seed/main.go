// Command seed uploads a local HLS tree laid out as
// {movieId}/master.m3u8 and {movieId}/{qualityId}/{file} to the origin
// bucket under {prefix}/.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kalash/swarm-cdn/internal/fileserver"
	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/origin"
	"github.com/kalash/swarm-cdn/internal/segment"
)

func main() {
	var (
		endpoint = flag.String("endpoint", "127.0.0.1:9000", "MinIO endpoint")
		access   = flag.String("access", "minioadmin", "Access key")
		secret   = flag.String("secret", "minioadmin", "Secret key")
		bucket   = flag.String("bucket", "hls", "Bucket name")
		prefix   = flag.String("prefix", "movies", "Object prefix")
		inDir    = flag.String("in", "assets/hls", "Input directory to upload")
		useSSL   = flag.Bool("ssl", false, "Use TLS")
	)
	flag.Parse()
	logging.Init(logging.Config{Level: "info", Format: "console"})

	client, err := minio.New(*endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(*access, *secret, ""),
		Secure: *useSSL,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("minio client")
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, *bucket)
	if err != nil {
		logging.Fatal().Err(err).Str("bucket", *bucket).Msg("bucket exists")
	}
	if !exists {
		if err := client.MakeBucket(ctx, *bucket, minio.MakeBucketOptions{}); err != nil {
			logging.Fatal().Err(err).Str("bucket", *bucket).Msg("make bucket")
		}
	}

	uploaded := 0
	err = filepath.WalkDir(*inDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(*inDir, path)
		if err != nil {
			return err
		}
		name, err := objectName(*prefix, rel)
		if err != nil {
			logging.Warn().Err(err).Str("file", rel).Msg("skipping file outside the movie layout")
			return nil
		}
		opts := minio.PutObjectOptions{
			ContentType:  fileserver.TypeByExtension(path),
			CacheControl: fileserver.CacheControl(d.Name()),
		}
		if _, err := client.FPutObject(ctx, *bucket, name, path, opts); err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		uploaded++
		logging.Info().Str("object", name).Msg("uploaded")
		return nil
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("seed failed")
	}
	logging.Info().Int("objects", uploaded).Str("bucket", *bucket).Msg("seed complete")
}

// objectName maps a path relative to the input root onto the origin
// layout the seeder's fetcher reads.
func objectName(prefix, rel string) (string, error) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	var key segment.Key
	switch len(parts) {
	case 2:
		key = segment.Key{Movie: parts[0], Segment: parts[1]}
	case 3:
		key = segment.Key{Movie: parts[0], Quality: parts[1], Segment: parts[2]}
	default:
		return "", fmt.Errorf("unexpected depth %d", len(parts))
	}
	if err := key.Validate(); err != nil {
		return "", err
	}
	return origin.ObjectName(prefix, key, segment.Classify(key.Segment), key.Segment), nil
}
