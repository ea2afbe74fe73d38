package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/google/uuid"
)

// CloudFrontClient is the subset of *cloudfront.Client this package depends
// on, so tests can substitute a fake.
type CloudFrontClient interface {
	CreateInvalidation(context.Context, *cloudfront.CreateInvalidationInput, ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// CloudFront implements Invalidator against a single distribution. Per the
// error-handling table (spec.md §7), a failure here is logged by the caller
// and never aborts a run.
type CloudFront struct {
	Client         CloudFrontClient
	DistributionID string
}

var _ Invalidator = (*CloudFront)(nil)

func (c *CloudFront) Invalidate(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	items := make([]string, len(paths))
	for i, p := range paths {
		if p == "" || p[0] != '/' {
			p = "/" + p
		}
		items[i] = p
	}
	_, err := c.Client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(c.DistributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(items))),
				Items:    items,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("storage: cloudfront invalidation failed: %w", err)
	}
	return nil
}
