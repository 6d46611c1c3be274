package fakes

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
)

// FakeRDSClient serves DescribeDBInstances and DescribeDBClusters from memory.
type FakeRDSClient struct {
	Instances map[string]rdstypes.DBInstance
	Clusters  map[string]rdstypes.DBCluster
	// Err, when set, is returned by every call.
	Err error
}

// NewFakeRDSClient creates an empty fake.
func NewFakeRDSClient() *FakeRDSClient {
	return &FakeRDSClient{
		Instances: make(map[string]rdstypes.DBInstance),
		Clusters:  make(map[string]rdstypes.DBCluster),
	}
}

// RDSARN returns the fake ARN of an instance ("db") or cluster ("cluster").
func RDSARN(kind, id string) string {
	return fmt.Sprintf("arn:aws:rds:us-east-1:123456789012:%s:%s", kind, id)
}

// AddInstance registers an instance reachable at address:port. source names
// the primary when the instance is a read replica.
func (f *FakeRDSClient) AddInstance(id, address string, port int32, engine, source string) {
	inst := rdstypes.DBInstance{
		DBInstanceIdentifier: aws.String(id),
		DBInstanceArn:        aws.String(RDSARN("db", id)),
		Engine:               aws.String(engine),
		Endpoint: &rdstypes.Endpoint{
			Address: aws.String(address),
			Port:    aws.Int32(port),
		},
	}
	if source != "" {
		inst.ReadReplicaSourceDBInstanceIdentifier = aws.String(source)
	}
	f.Instances[id] = inst
}

// AddCluster registers a cluster with a writer endpoint.
func (f *FakeRDSClient) AddCluster(id, endpoint string, port int32, engine string) {
	f.Clusters[id] = rdstypes.DBCluster{
		DBClusterIdentifier: aws.String(id),
		DBClusterArn:        aws.String(RDSARN("cluster", id)),
		Endpoint:            aws.String(endpoint),
		Port:                aws.Int32(port),
		Engine:              aws.String(engine),
	}
}

// DescribeDBInstances mocks the DescribeDBInstances operation
func (f *FakeRDSClient) DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	id := lastSegment(aws.ToString(params.DBInstanceIdentifier))
	inst, ok := f.Instances[id]
	if !ok {
		return nil, &rdstypes.DBInstanceNotFoundFault{Message: aws.String("DBInstance " + id + " not found.")}
	}
	return &rds.DescribeDBInstancesOutput{DBInstances: []rdstypes.DBInstance{inst}}, nil
}

// DescribeDBClusters mocks the DescribeDBClusters operation
func (f *FakeRDSClient) DescribeDBClusters(ctx context.Context, params *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	id := lastSegment(aws.ToString(params.DBClusterIdentifier))
	c, ok := f.Clusters[id]
	if !ok {
		return nil, &rdstypes.DBClusterNotFoundFault{Message: aws.String("DBCluster " + id + " not found.")}
	}
	return &rds.DescribeDBClustersOutput{DBClusters: []rdstypes.DBCluster{c}}, nil
}

// lastSegment accepts either an identifier or an ARN.
func lastSegment(s string) string {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return s
}
