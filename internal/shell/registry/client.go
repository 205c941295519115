package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	smithy "github.com/aws/smithy-go"
)

// =============================================================================
// ECR Client Implementation
// =============================================================================

// Client implements registry access using the AWS SDK (ECR + STS).
type Client struct {
	ecr    *ecr.Client
	sts    *sts.Client
	region string
	logger *slog.Logger
}

// NewClient creates a registry client for the given region using the default
// AWS credential chain. If endpoint is non-empty both services are pointed at
// it, which is how the tests run against a local simulator.
func NewClient(ctx context.Context, region, endpoint string, logger *slog.Logger) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, NewRegistryError("NewClient", "", "failed to load AWS configuration", ErrConnectionFailed)
	}

	var ecrClient *ecr.Client
	var stsClient *sts.Client
	if endpoint != "" {
		ecrClient = ecr.NewFromConfig(cfg, func(o *ecr.Options) { o.BaseEndpoint = aws.String(endpoint) })
		stsClient = sts.NewFromConfig(cfg, func(o *sts.Options) { o.BaseEndpoint = aws.String(endpoint) })
	} else {
		ecrClient = ecr.NewFromConfig(cfg)
		stsClient = sts.NewFromConfig(cfg)
	}

	return &Client{
		ecr:    ecrClient,
		sts:    stsClient,
		region: region,
		logger: logger.With("component", "registry", "region", region),
	}, nil
}

// Region returns the region the client was created for.
func (c *Client) Region() string {
	return c.region
}

// CheckAccess resolves the caller identity via STS. A failure here means the
// operator has no usable AWS credentials.
func (c *Client) CheckAccess(ctx context.Context) (*Identity, error) {
	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, NewRegistryError("CheckAccess", "", err.Error(), ErrUnauthenticated)
	}

	id := &Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}
	c.logger.Debug("caller identity resolved", "account", id.Account, "arn", id.ARN)
	return id, nil
}

// EnsureRepository describes the named repository, creating it when absent.
// Creation enables scan-on-push and AES256 at-rest encryption. The bool result
// reports whether this call created the repository. Safe to run repeatedly:
// an already-existing repository is never an error, including the race where
// another actor creates it between the describe and the create.
func (c *Client) EnsureRepository(ctx context.Context, name string) (*Repository, bool, error) {
	repo, err := c.describeRepository(ctx, name)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, ErrRepositoryNotFound) {
		return nil, false, err
	}

	out, err := c.ecr.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(name),
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
			ScanOnPush: true,
		},
		EncryptionConfiguration: &ecrtypes.EncryptionConfiguration{
			EncryptionType: ecrtypes.EncryptionTypeAes256,
		},
	})
	if err != nil {
		if isAPIError(err, "RepositoryAlreadyExistsException") {
			repo, err := c.describeRepository(ctx, name)
			if err != nil {
				return nil, false, err
			}
			return repo, false, nil
		}
		return nil, false, NewRegistryError("EnsureRepository", name, err.Error(), ErrRepositoryOperationFailed)
	}

	c.logger.Info("repository created", "repository", name)
	return repositoryFromAPI(out.Repository), true, nil
}

func (c *Client) describeRepository(ctx context.Context, name string) (*Repository, error) {
	out, err := c.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err != nil {
		if isAPIError(err, "RepositoryNotFoundException") {
			return nil, NewRegistryError("DescribeRepository", name, "repository not found", ErrRepositoryNotFound)
		}
		return nil, NewRegistryError("DescribeRepository", name, err.Error(), ErrRepositoryOperationFailed)
	}
	if len(out.Repositories) == 0 {
		return nil, NewRegistryError("DescribeRepository", name, "repository not found", ErrRepositoryNotFound)
	}

	return repositoryFromAPI(&out.Repositories[0]), nil
}

// AuthorizationToken fetches a fresh registry credential. The token is a
// base64-encoded "user:password" pair scoped to the account's registry.
func (c *Client) AuthorizationToken(ctx context.Context) (*Auth, error) {
	out, err := c.ecr.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, NewRegistryError("AuthorizationToken", "", err.Error(), err)
	}
	if len(out.AuthorizationData) == 0 {
		return nil, NewRegistryError("AuthorizationToken", "", "no authorization data returned", ErrTokenInvalid)
	}

	data := out.AuthorizationData[0]
	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return nil, NewRegistryError("AuthorizationToken", "", "failed to decode token", ErrTokenInvalid)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, NewRegistryError("AuthorizationToken", "", "token is not a user:password pair", ErrTokenInvalid)
	}

	auth := &Auth{
		Username:      user,
		Password:      pass,
		ProxyEndpoint: aws.ToString(data.ProxyEndpoint),
	}
	if data.ExpiresAt != nil {
		auth.ExpiresAt = *data.ExpiresAt
	}
	return auth, nil
}

// PutLifecyclePolicy writes the policy document to the repository,
// unconditionally replacing any existing policy.
func (c *Client) PutLifecyclePolicy(ctx context.Context, name, policyText string) error {
	_, err := c.ecr.PutLifecyclePolicy(ctx, &ecr.PutLifecyclePolicyInput{
		RepositoryName:      aws.String(name),
		LifecyclePolicyText: aws.String(policyText),
	})
	if err != nil {
		return NewRegistryError("PutLifecyclePolicy", name, err.Error(), ErrPolicyRejected)
	}
	c.logger.Info("lifecycle policy applied", "repository", name)
	return nil
}

// ListImages returns the images currently stored in the repository.
func (c *Client) ListImages(ctx context.Context, name string) ([]Image, error) {
	out, err := c.ecr.DescribeImages(ctx, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(name),
	})
	if err != nil {
		if isAPIError(err, "RepositoryNotFoundException") {
			return nil, NewRegistryError("ListImages", name, "repository not found", ErrRepositoryNotFound)
		}
		return nil, NewRegistryError("ListImages", name, err.Error(), err)
	}

	images := make([]Image, 0, len(out.ImageDetails))
	for _, detail := range out.ImageDetails {
		img := Image{
			Digest:    aws.ToString(detail.ImageDigest),
			Tags:      detail.ImageTags,
			SizeBytes: aws.ToInt64(detail.ImageSizeInBytes),
		}
		if detail.ImagePushedAt != nil {
			img.PushedAt = *detail.ImagePushedAt
		}
		images = append(images, img)
	}
	return images, nil
}

// =============================================================================
// Helpers
// =============================================================================

func repositoryFromAPI(repo *ecrtypes.Repository) *Repository {
	r := &Repository{
		Name:       aws.ToString(repo.RepositoryName),
		URI:        aws.ToString(repo.RepositoryUri),
		ARN:        aws.ToString(repo.RepositoryArn),
		RegistryID: aws.ToString(repo.RegistryId),
	}
	if repo.CreatedAt != nil {
		r.CreatedAt = *repo.CreatedAt
	}
	return r
}

func isAPIError(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
