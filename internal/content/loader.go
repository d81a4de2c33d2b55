package content

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/cleanplanet/cleanplanet-web/internal/cryptoutil"
	"github.com/cleanplanet/cleanplanet-web/internal/log"
	"github.com/cleanplanet/cleanplanet-web/internal/xerrors"
)

// ssmGetter and s3Getter cover the single AWS call each client makes,
// so tests can substitute fakes without AWS credentials.
type ssmGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type s3Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// BundleVerifier checks a detached signature over the raw bundle bytes.
type BundleVerifier interface {
	Verify(ctx context.Context, message, signature []byte) error
}

var _ BundleVerifier = (*cryptoutil.KMSVerifier)(nil)

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter containing the current bundle SHA256 hash
	SSMParam string

	// S3 location for bundles: s3://{bucket}/{prefix}/{hash}.tar.gz
	S3Bucket string
	S3Prefix string

	// Verifier, when set, must accept a detached signature stored next to
	// the bundle at {key}.sig before the bundle is trusted.
	Verifier BundleVerifier

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

// Loader fetches signed content bundles from S3, keyed by a hash pointer
// stored in SSM, and turns them into in-memory Snapshots.
type Loader struct {
	opts      LoaderOptions
	ssmClient ssmGetter
	s3Client  s3Getter
	logger    log.Logger
}

// NewLoader creates a content Loader with the given options.
func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	var awsCfg aws.Config
	var err error
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}

	return &Loader{
		opts:      opts,
		ssmClient: ssm.NewFromConfig(awsCfg),
		s3Client:  s3.NewFromConfig(awsCfg),
		logger:    opts.Logger,
	}, nil
}

// FetchCurrentBundleHash gets the current bundle hash from SSM.
func (l *Loader) FetchCurrentBundleHash(ctx context.Context) (string, error) {
	out, err := l.ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	hash := strings.TrimSpace(*out.Parameter.Value)
	if hash == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", l.opts.SSMParam)
	}

	return hash, nil
}

// s3Key returns the S3 object key for a given hash.
func (l *Loader) s3Key(hash string) string {
	if l.opts.S3Prefix != "" {
		return fmt.Sprintf("%s/%s.tar.gz", l.opts.S3Prefix, hash)
	}
	return fmt.Sprintf("%s.tar.gz", hash)
}

// download fetches a bundle from S3 and verifies its checksum.
func (l *Loader) download(ctx context.Context, hash string) ([]byte, error) {
	key := l.s3Key(hash)

	l.logger.Info(ctx, "downloading content bundle",
		"bucket", l.opts.S3Bucket,
		"key", key,
		"expected_hash", hash,
	)

	out, err := l.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	data, actualHash, err := readWithHash(out.Body, maxBundleSize)
	if err != nil {
		return nil, xerrors.Wrap(err, "download bundle")
	}

	l.logger.Info(ctx, "downloaded content bundle",
		"bytes", len(data),
		"actual_hash", actualHash,
	)

	// our policy is to always use cryptoutil.HashEqual for comparing hashes,
	// even though this value is not a secret so timing is not a concern here
	if !cryptoutil.HashEqual(actualHash, hash) {
		return nil, xerrors.Newf("checksum mismatch: expected %s, got %s", hash, actualHash)
	}

	return data, nil
}

// verifySignature fetches the detached signature at {key}.sig and checks it
// against the bundle bytes. Only called when a Verifier is configured.
func (l *Loader) verifySignature(ctx context.Context, hash string, data []byte) error {
	sigKey := l.s3Key(hash) + ".sig"

	out, err := l.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(sigKey),
	})
	if err != nil {
		return xerrors.Wrapf(err, "get bundle signature s3://%s/%s", l.opts.S3Bucket, sigKey)
	}
	defer out.Body.Close()

	sig, err := io.ReadAll(io.LimitReader(out.Body, 16*1024))
	if err != nil {
		return xerrors.Wrap(err, "read bundle signature")
	}

	if err := l.opts.Verifier.Verify(ctx, data, sig); err != nil {
		return xerrors.Wrapf(err, "verify bundle %s", hash)
	}

	return nil
}

// Load fetches the current release and returns a Snapshot.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	hash, err := l.FetchCurrentBundleHash(ctx)
	if err != nil {
		return nil, err
	}

	return l.LoadHash(ctx, hash)
}

// LoadHash fetches a specific bundle by hash and returns a Snapshot. The
// bundle is extracted entirely in memory; nothing touches disk.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Snapshot, error) {
	loadedAt := time.Now().UTC()

	data, err := l.download(ctx, hash)
	if err != nil {
		return nil, err
	}

	if l.opts.Verifier != nil {
		if err := l.verifySignature(ctx, hash, data); err != nil {
			return nil, err
		}
		l.logger.Info(ctx, "verified content bundle signature", "hash", hash)
	}

	contentFS, err := extractTarGzToMem(data)
	if err != nil {
		return nil, xerrors.Wrap(err, "extract bundle")
	}

	version := bundleVersion(contentFS)

	l.logger.Info(ctx, "extracted content bundle",
		"hash", hash,
		"version", version,
	)

	return &Snapshot{
		FS: contentFS,
		Meta: Meta{
			Version:    version,
			SHA256:     hash,
			VerifiedAt: time.Now().UTC(),
			Source:     SourceS3,
		},
		LoadedAt: loadedAt,
	}, nil
}

// LoadIntoManager fetches the current release and updates the content manager.
func (l *Loader) LoadIntoManager(ctx context.Context, mgr *Manager) error {
	snap, err := l.Load(ctx)
	if err != nil {
		return err
	}
	mgr.Set(*snap)
	return nil
}
