package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"

	apperrors "github.com/slipway-io/slipway/internal/errors"
	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/provider"
)

// registryAdapter provisions an ECR repository. Its secrets are the
// docker login triple the image build needs: login server plus a
// short-lived username/password from GetAuthorizationToken. Describe
// publishes them too, so re-runs that skip the registry still feed the
// image push.
type registryAdapter struct {
	p *Provider
}

func (a *registryAdapter) Describe(ctx context.Context, req provider.Request) (provider.Observation, error) {
	if err := a.p.wait(ctx); err != nil {
		return provider.NotFound(), err
	}

	out, err := a.p.clients.ECR.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{req.Name},
	})
	if err != nil {
		var notFound *ecrtypes.RepositoryNotFoundException
		if errors.As(err, &notFound) {
			return provider.NotFound(), nil
		}
		return provider.NotFound(), classify("ecr", "DescribeRepositories", err)
	}
	if len(out.Repositories) == 0 {
		return provider.NotFound(), nil
	}

	secrets, err := a.loginSecrets(ctx)
	if err != nil {
		return provider.NotFound(), err
	}
	return provider.FoundWithSecrets(map[string]string{}, secrets), nil
}

func (a *registryAdapter) CreateOrUpdate(ctx context.Context, req provider.Request, observed provider.Observation) (provider.Result, error) {
	if !observed.Exists {
		if err := a.p.wait(ctx); err != nil {
			return provider.Result{}, err
		}
		_, err := a.p.clients.ECR.CreateRepository(ctx, &ecr.CreateRepositoryInput{
			RepositoryName:     strPtr(req.Name),
			ImageTagMutability: ecrtypes.ImageTagMutabilityMutable,
			ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
				ScanOnPush: true,
			},
			Tags: []ecrtypes.Tag{{Key: strPtr(groupTagKey), Value: strPtr(a.p.opts.ResourceGroup)}},
		})
		if err != nil {
			var exists *ecrtypes.RepositoryAlreadyExistsException
			if !errors.As(err, &exists) {
				return provider.Result{}, classify("ecr", "CreateRepository", err)
			}
		}
	}

	secrets, err := a.loginSecrets(ctx)
	if err != nil {
		return provider.Result{}, err
	}
	return provider.Result{Secrets: secrets}, nil
}

// loginSecrets resolves the registry endpoint and a docker credential
// pair. ECR tokens are account-wide and expire after 12 hours, well
// beyond any single run.
func (a *registryAdapter) loginSecrets(ctx context.Context) (map[string]string, error) {
	if err := a.p.wait(ctx); err != nil {
		return nil, err
	}

	out, err := a.p.clients.ECR.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, classify("ecr", "GetAuthorizationToken", err)
	}
	if len(out.AuthorizationData) == 0 {
		return nil, apperrors.New(apperrors.CodeProviderRejected, "ecr returned no authorization data")
	}

	auth := out.AuthorizationData[0]
	decoded, err := base64.StdEncoding.DecodeString(stringValue(auth.AuthorizationToken))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeProviderRejected, "malformed ecr authorization token")
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, apperrors.New(apperrors.CodeProviderRejected, "ecr authorization token is not user:password")
	}

	loginServer := strings.TrimPrefix(stringValue(auth.ProxyEndpoint), "https://")
	if loginServer == "" {
		return nil, apperrors.New(apperrors.CodeProviderRejected, "ecr returned no proxy endpoint")
	}

	return map[string]string{
		ir.SecretLoginServer: loginServer,
		ir.SecretUsername:    username,
		ir.SecretPassword:    password,
	}, nil
}
