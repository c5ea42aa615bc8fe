package paydirt

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/inconshreveable/log15"
)

// DefaultStorageTypes are the S3 storage classes the size breakdown fact
// queries CloudWatch for. The list can be trimmed via SurveyInput.
var DefaultStorageTypes = []string{
	"StandardStorage",
	"StandardIAStorage",
	"OneZoneIAStorage",
	"ReducedRedundancyStorage",
	"GlacierStorage",
	"GlacierInstantRetrievalStorage",
	"GlacierDeepArchiveStorage",
	"IntelligentTieringFAStorage",
	"IntelligentTieringIAStorage",
	"IntelligentTieringAAStorage",
}

// accountIDProvider resolves the account number of the session currently
// in use via STS.
func accountIDProvider(res Resource, clb *Collaborators) (FactValue, error) {
	svc := sts.New(clb.Session)
	gci, err := svc.GetCallerIdentity(&sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, err
	}
	return StringValue(*gci.Account), nil
}

// tagsProvider fetches the bucket's tag set. A bucket with no tags at all
// comes back from S3 as a NoSuchTagSet error; that is a normal empty
// result, not a fetch failure.
func tagsProvider(res Resource, clb *Collaborators) (FactValue, error) {
	input := s3.GetBucketTaggingInput{
		Bucket: &res.Name,
	}
	resp, err := clb.S3.GetBucketTagging(&input)
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == "NoSuchTagSet" {
			return StringMap{}, nil
		}
		return nil, err
	}
	tags := StringMap{}
	for _, tag := range resp.TagSet {
		if tag.Key != nil && tag.Value != nil {
			tags[*tag.Key] = *tag.Value
		}
	}
	return tags, nil
}

// sizesProvider builds the per-storage-type size fact. CloudWatch only
// publishes BucketSizeBytes daily, so the provider looks back over a
// window of days and keeps the most recent datapoint per storage type.
// The metric lives in the bucket's own region, hence the regional client.
// A storage type whose query fails is logged and left out of the map.
func sizesProvider(lookbackDays int, storageTypes []string, logger log15.Logger) FactProvider {
	return func(res Resource, clb *Collaborators) (FactValue, error) {
		svc := cloudwatch.New(clb.Session, clb.Session.Config.Copy().WithRegion(res.Region))
		endTime := time.Now().UTC()
		startTime := endTime.Add(-time.Duration(lookbackDays) * 24 * time.Hour)
		namespace := "AWS/S3"
		metricName := "BucketSizeBytes"
		bucketDim := "BucketName"
		typeDim := "StorageType"
		period := int64(86400)
		statistic := "Average"

		sizes := NumberMap{}
		for i := range storageTypes {
			stype := storageTypes[i]
			input := cloudwatch.GetMetricStatisticsInput{
				Namespace:  &namespace,
				MetricName: &metricName,
				Dimensions: []*cloudwatch.Dimension{
					{Name: &bucketDim, Value: &res.Name},
					{Name: &typeDim, Value: &stype},
				},
				StartTime:  &startTime,
				EndTime:    &endTime,
				Period:     &period,
				Statistics: []*string{&statistic},
			}
			resp, err := svc.GetMetricStatistics(&input)
			if err != nil {
				logger.Warn(
					"metric query failed for storage type",
					"bucket", res.Name, "type", stype, "error", err.Error(),
				)
				continue
			}
			var latest *cloudwatch.Datapoint
			for _, dp := range resp.Datapoints {
				if latest == nil || dp.Timestamp.After(*latest.Timestamp) {
					latest = dp
				}
			}
			if latest != nil && latest.Average != nil {
				sizes[stype] = *latest.Average
			}
		}
		return sizes, nil
	}
}

// DefaultRegistry returns a fact registry with the three built-in
// providers wired in.
func DefaultRegistry(lookbackDays int, storageTypes []string, logger log15.Logger) (*Registry, error) {
	reg := NewRegistry()
	if err := reg.Register(FactAccountID, accountIDProvider); err != nil {
		return nil, err
	}
	if err := reg.Register(FactTags, tagsProvider); err != nil {
		return nil, err
	}
	if err := reg.Register(FactSizesByType, sizesProvider(lookbackDays, storageTypes, logger)); err != nil {
		return nil, err
	}
	return reg, nil
}

func renderBucketName(res Resource, _ *Cache) string {
	return res.Name
}

func renderRegion(res Resource, _ *Cache) string {
	return res.Region
}

func renderAccountID(_ Resource, cache *Cache) string {
	return cache.String(FactAccountID)
}

func renderTotalBytes(_ Resource, cache *Cache) string {
	var total float64
	for _, bytes := range cache.NumberMap(FactSizesByType) {
		total += bytes
	}
	return strconv.FormatInt(int64(total), 10)
}

// renderTags flattens the tag set to "k=v;k=v" sorted by key so the cell
// is stable across runs.
func renderTags(_ Resource, cache *Cache) string {
	tags := cache.StringMap(FactTags)
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+tags[k])
	}
	return strings.Join(pairs, ";")
}

// tagColumn builds a column that surfaces one tag's value.
func tagColumn(name, tagKey string, enabled bool) ColumnDef {
	return ColumnDef{
		Name:     name,
		Enabled:  enabled,
		Requires: []FactKey{FactTags},
		Render: func(_ Resource, cache *Cache) string {
			return cache.StringMap(FactTags)[tagKey]
		},
	}
}

// storageTypeColumn builds a column reporting the bytes stored in one
// storage class, defaulting to 0 when the metric is absent.
func storageTypeColumn(storageType string, enabled bool) ColumnDef {
	return ColumnDef{
		Name:     storageType,
		Enabled:  enabled,
		Requires: []FactKey{FactSizesByType},
		Render: func(_ Resource, cache *Cache) string {
			bytes := cache.NumberMap(FactSizesByType)[storageType]
			return strconv.FormatInt(int64(bytes), 10)
		},
	}
}

// DefaultColumns returns the stock column set. Flip columns on or off
// with ColumnSet.Toggle (or the [columns] section of the CLI config); no
// collection code needs to change either way. account_id and the
// per-storage-type breakdown start disabled since most reports only want
// the total.
func DefaultColumns(storageTypes []string) (*ColumnSet, error) {
	defs := []ColumnDef{
		{Name: "bucket_name", Enabled: true, Render: renderBucketName},
		{Name: "region", Enabled: true, Render: renderRegion},
		{Name: "account_id", Enabled: false, Requires: []FactKey{FactAccountID}, Render: renderAccountID},
		{Name: "total_bytes", Enabled: true, Requires: []FactKey{FactSizesByType}, Render: renderTotalBytes},
		{Name: "tags", Enabled: true, Requires: []FactKey{FactTags}, Render: renderTags},
		tagColumn("tag_cost_center", "cost_center", true),
		tagColumn("tag_environment", "environment", true),
	}
	for _, stype := range storageTypes {
		defs = append(defs, storageTypeColumn(stype, false))
	}
	return NewColumnSet(defs...)
}
