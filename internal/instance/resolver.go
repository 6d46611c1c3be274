// Package instance resolves RDS connection metadata for master secrets and
// answers replica-topology questions during rotation.
package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/logging"
	"github.com/systmms/pgrotate/internal/secretdict"
)

// System tags RDS sets on secrets it manages.
const (
	TagPrimaryInstanceARN = "aws:rds:primaryDBInstanceArn"
	TagPrimaryClusterARN  = "aws:rds:primaryDBClusterArn"
)

// MaxARNLength bounds the tag value accepted as an RDS ARN.
const MaxARNLength = 256

// RDSClientAPI defines the subset of the RDS client used by Resolver.
type RDSClientAPI interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	DescribeDBClusters(ctx context.Context, params *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
}

// TagSource returns the tags of a secret.
type TagSource interface {
	SecretTags(ctx context.Context, secretID string) (map[string]string, error)
}

// Resolver looks up instance and cluster metadata.
type Resolver struct {
	rds    RDSClientAPI
	tags   TagSource
	logger *logging.Logger
}

// New creates a resolver. A nil logger discards output.
func New(client RDSClientAPI, tags TagSource, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{rds: client, tags: tags, logger: logger}
}

// NewFromConfig creates a resolver with a real RDS client. endpoint overrides
// the service endpoint when non-empty.
func NewFromConfig(cfg aws.Config, endpoint string, tags TagSource, logger *logging.Logger) *Resolver {
	var clientOpts []func(*rds.Options)
	if endpoint != "" {
		clientOpts = append(clientOpts, func(o *rds.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return New(rds.NewFromConfig(cfg, clientOpts...), tags, logger)
}

type resourceRef struct {
	kind string // "db" or "cluster"
	id   string
}

// ResolveConnection fills host, port and engine of an identity-only master
// secret from the RDS resource named by its system tags. Without a tag the
// dictionary is returned unchanged.
func (r *Resolver) ResolveConnection(ctx context.Context, secretID string, d secretdict.Dictionary) (secretdict.Dictionary, error) {
	tags, err := r.tags.SecretTags(ctx, secretID)
	if err != nil {
		return d, err
	}

	raw, ok := tags[TagPrimaryInstanceARN]
	if !ok {
		raw, ok = tags[TagPrimaryClusterARN]
	}
	if !ok {
		r.logger.Debug("No RDS system tag on master secret %s", secretID)
		return d, nil
	}

	ref, err := parseResourceARN(raw)
	if err != nil {
		return d, &rerrors.ValidationError{SecretID: secretID, Message: "invalid RDS resource tag", Err: err}
	}

	switch ref.kind {
	case "db":
		inst, err := r.describeInstance(ctx, ref.id)
		if err != nil {
			return d, err
		}
		if inst.Endpoint == nil {
			return d, rerrors.Validationf("instance %s has no endpoint yet", ref.id)
		}
		d.Host = aws.ToString(inst.Endpoint.Address)
		d.Port = int(aws.ToInt32(inst.Endpoint.Port))
		d.Engine = aws.ToString(inst.Engine)
	case "cluster":
		c, err := r.describeCluster(ctx, ref.id)
		if err != nil {
			return d, err
		}
		d.Host = aws.ToString(c.Endpoint)
		d.Port = int(aws.ToInt32(c.Port))
		d.Engine = aws.ToString(c.Engine)
	}

	r.logger.Info("Fetched connection params for master secret %s from RDS %s %s", secretID, ref.kind, ref.id)
	return d, nil
}

// IsReplicaOf reports whether the instance behind candidateHost is a read
// replica of the instance behind masterHost. The first DNS label of each host
// is taken as the instance identifier. An unknown instance is not a replica;
// other lookup failures are returned.
func (r *Resolver) IsReplicaOf(ctx context.Context, candidateHost, masterHost string) (bool, error) {
	candidate := firstLabel(candidateHost)
	master := firstLabel(masterHost)
	if candidate == "" || master == "" {
		return false, nil
	}

	inst, err := r.describeInstance(ctx, candidate)
	if err != nil {
		var ve *rerrors.ValidationError
		if errors.As(err, &ve) {
			r.logger.Debug("Instance %s not found: %v", candidate, err)
			return false, nil
		}
		return false, err
	}

	source := aws.ToString(inst.ReadReplicaSourceDBInstanceIdentifier)
	if source == "" {
		return false, nil
	}
	// Cross-region replicas report the source as an ARN.
	if parsed, err := arn.Parse(source); err == nil {
		source = strings.TrimPrefix(parsed.Resource, "db:")
	}
	return source == master, nil
}

func (r *Resolver) describeInstance(ctx context.Context, id string) (rdstypes.DBInstance, error) {
	out, err := r.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(id),
	})
	if err != nil {
		var nf *rdstypes.DBInstanceNotFoundFault
		if errors.As(err, &nf) {
			return rdstypes.DBInstance{}, &rerrors.ValidationError{Message: fmt.Sprintf("RDS instance %s not found", id), Err: err}
		}
		return rdstypes.DBInstance{}, fmt.Errorf("describe RDS instance %s: %w", id, err)
	}
	if len(out.DBInstances) == 0 {
		return rdstypes.DBInstance{}, rerrors.Validationf("RDS instance %s not found", id)
	}
	return out.DBInstances[0], nil
}

func (r *Resolver) describeCluster(ctx context.Context, id string) (rdstypes.DBCluster, error) {
	out, err := r.rds.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: aws.String(id),
	})
	if err != nil {
		var nf *rdstypes.DBClusterNotFoundFault
		if errors.As(err, &nf) {
			return rdstypes.DBCluster{}, &rerrors.ValidationError{Message: fmt.Sprintf("RDS cluster %s not found", id), Err: err}
		}
		return rdstypes.DBCluster{}, fmt.Errorf("describe RDS cluster %s: %w", id, err)
	}
	if len(out.DBClusters) == 0 {
		return rdstypes.DBCluster{}, rerrors.Validationf("RDS cluster %s not found", id)
	}
	return out.DBClusters[0], nil
}

func parseResourceARN(raw string) (resourceRef, error) {
	if len(raw) > MaxARNLength {
		return resourceRef{}, fmt.Errorf("ARN exceeds %d characters", MaxARNLength)
	}
	parsed, err := arn.Parse(raw)
	if err != nil {
		return resourceRef{}, err
	}
	if parsed.Service != "rds" {
		return resourceRef{}, fmt.Errorf("ARN names service %q, want rds", parsed.Service)
	}

	kind, id, found := strings.Cut(parsed.Resource, ":")
	if !found || id == "" || (kind != "db" && kind != "cluster") {
		return resourceRef{}, fmt.Errorf("ARN resource %q is not a db or cluster", parsed.Resource)
	}
	return resourceRef{kind: kind, id: id}, nil
}

func firstLabel(host string) string {
	label, _, _ := strings.Cut(host, ".")
	return label
}
