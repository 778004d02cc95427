package record

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/slipway-io/slipway/internal/logging"
)

// ObjectPutter is the slice of the S3 API the archive needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// LockClient is the slice of the DynamoDB API the run lock needs.
type LockClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Archive mirrors records to S3 and, when a table is configured, takes
// a DynamoDB lock so two operators cannot deploy the same app at once.
// Both are optional extras over the local store.
type Archive struct {
	s3Client ObjectPutter
	dbClient LockClient

	bucket string
	prefix string
	table  string
}

func NewArchive(s3Client ObjectPutter, dbClient LockClient, bucket, prefix, table string) *Archive {
	return &Archive{
		s3Client: s3Client,
		dbClient: dbClient,
		bucket:   bucket,
		prefix:   prefix,
		table:    table,
	}
}

// Put uploads the record under a timestamped key and refreshes the
// latest pointer. Archive failures are reported, not fatal; the caller
// decides whether a missing archive should fail the run.
func (a *Archive) Put(ctx context.Context, rec *Record) error {
	if a.s3Client == nil || a.bucket == "" {
		return nil
	}

	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal deployment record: %w", err)
	}

	stamped := path.Join(a.prefix, rec.App, rec.RecordedAt.UTC().Format("20060102T150405Z")+".json")
	latest := path.Join(a.prefix, rec.App, "latest.json")

	for _, key := range []string{stamped, latest} {
		_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("failed to archive record to s3://%s/%s: %w", a.bucket, key, err)
		}
	}
	logging.Debug("archived deployment record", "bucket", a.bucket, "key", stamped)
	return nil
}

// Lock takes the distributed run lock for one app. The conditional put
// loses against an existing item, which means another deployment holds
// the lock.
func (a *Archive) Lock(ctx context.Context, app string) error {
	if a.dbClient == nil || a.table == "" {
		return nil
	}

	owner := fmt.Sprintf("slipway-%d-%d", os.Getpid(), time.Now().UnixNano())
	_, err := a.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.table),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: app},
			"Info":    &dbtypes.AttributeValueMemberS{Value: owner},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		if strings.Contains(err.Error(), "ConditionalCheckFailedException") {
			return fmt.Errorf("deployment of %q is locked by another run; "+
				"delete the item LockID=%q from table %q if that run crashed", app, app, a.table)
		}
		return fmt.Errorf("failed to acquire deployment lock: %w", err)
	}
	return nil
}

// Unlock releases the distributed run lock.
func (a *Archive) Unlock(ctx context.Context, app string) error {
	if a.dbClient == nil || a.table == "" {
		return nil
	}

	_, err := a.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(a.table),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: app},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release deployment lock: %w", err)
	}
	return nil
}
