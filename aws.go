package paydirt

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/organizations"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/google/uuid"
	"github.com/inconshreveable/log15"
)

// Collaborators bundles the session and client context that fact
// providers need to reach AWS. The row engine threads it through to
// providers without ever looking inside.
type Collaborators struct {
	// Session carries the credentials for the account currently
	// being surveyed.
	Session *session.Session

	// S3 is a client on Session, shared by the bucket enumerator and
	// any provider that talks to S3 directly.
	S3 *s3.S3
}

func newCollaborators(sess *session.Session) *Collaborators {
	return &Collaborators{
		Session: sess,
		S3:      s3.New(sess),
	}
}

// listOrgAccounts returns the IDs of all ACTIVE accounts in the
// organization the session belongs to, handling pagination.
func listOrgAccounts(sess *session.Session, logger log15.Logger) (accounts []string, err error) {
	logger.Debug("listing organization accounts")
	svc := organizations.New(sess)
	input := organizations.ListAccountsInput{}
	results, err := svc.ListAccounts(&input)
	if err != nil {
		return accounts, err
	}
	accounts = append(accounts, activeAccountIds(results.Accounts)...)
	i := 2
	max := 50
	for i < max {
		logger.Debug("handling account listing results", "page", i)
		if results.NextToken != nil {
			input = organizations.ListAccountsInput{
				NextToken: results.NextToken,
			}
			results, err = svc.ListAccounts(&input)
			if err != nil {
				return accounts, err
			}
			accounts = append(accounts, activeAccountIds(results.Accounts)...)
		} else {
			break
		}
		i += 1
	}
	return accounts, err
}

func activeAccountIds(accts []*organizations.Account) (ids []string) {
	for _, acct := range accts {
		if acct.Status != nil && *acct.Status == organizations.AccountStatusActive {
			ids = append(ids, *acct.Id)
		}
	}
	return ids
}

// assumeRole assumes the survey role in the given member account and
// returns a session built on the temporary credentials. The session name
// carries a uuid suffix so concurrent surveys are distinguishable in
// CloudTrail.
func assumeRole(sess *session.Session, accountID, roleName string) (*session.Session, error) {
	svc := sts.New(sess)
	roleArn := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
	sessionName := fmt.Sprintf("paydirt-survey-%s", uuid.NewString())
	input := sts.AssumeRoleInput{
		RoleArn:         &roleArn,
		RoleSessionName: &sessionName,
	}
	resp, err := svc.AssumeRole(&input)
	if err != nil {
		return nil, err
	}
	creds := resp.Credentials
	return session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(
			*creds.AccessKeyId,
			*creds.SecretAccessKey,
			*creds.SessionToken,
		),
	})
}

// bucketRegion resolves the region of a bucket. S3 reports us-east-1 as
// an empty LocationConstraint so that case is mapped explicitly.
func bucketRegion(svc *s3.S3, name string) (string, error) {
	input := s3.GetBucketLocationInput{
		Bucket: &name,
	}
	resp, err := svc.GetBucketLocation(&input)
	if err != nil {
		return "", err
	}
	if resp.LocationConstraint == nil || *resp.LocationConstraint == "" {
		return "us-east-1", nil
	}
	return *resp.LocationConstraint, nil
}

// bucketEnumerator walks the buckets of one account lazily. The listing
// call happens on the first Next. A bucket whose region cannot be
// resolved is logged and skipped rather than failing the account; the
// source of the lookup failure is not distinguishable from a bucket
// that genuinely reports no location, so both get the same treatment.
type bucketEnumerator struct {
	svc     *s3.S3
	log     log15.Logger
	fetched bool
	buckets []*s3.Bucket
	next    int
}

func newBucketEnumerator(svc *s3.S3, logger log15.Logger) *bucketEnumerator {
	return &bucketEnumerator{svc: svc, log: logger}
}

func (be *bucketEnumerator) Next() (*Resource, error) {
	if !be.fetched {
		resp, err := be.svc.ListBuckets(&s3.ListBucketsInput{})
		if err != nil {
			return nil, err
		}
		be.buckets = resp.Buckets
		be.fetched = true
		be.log.Info("listed buckets", "count", len(be.buckets))
	}
	for be.next < len(be.buckets) {
		bucket := be.buckets[be.next]
		be.next++
		if bucket.Name == nil {
			continue
		}
		region, err := bucketRegion(be.svc, *bucket.Name)
		if err != nil {
			be.log.Warn(
				"could not determine bucket region, skipping bucket",
				"bucket", *bucket.Name, "error", err.Error(),
			)
			continue
		}
		return &Resource{Name: *bucket.Name, Region: region}, nil
	}
	return nil, nil
}
