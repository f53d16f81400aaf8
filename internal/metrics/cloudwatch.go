package metrics

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"pricewatch/internal/aws"
)

const putTimeout = 2 * time.Second

// CloudWatchRecorder publishes counters to a CloudWatch namespace. Each
// datum is sent in its own goroutine so a slow metrics endpoint never
// stalls the dispatch path; delivery errors are logged and dropped.
type CloudWatchRecorder struct {
	client    aws.CloudWatchAPI
	namespace string
}

// NewCloudWatchRecorder returns a recorder for the given namespace.
func NewCloudWatchRecorder(client aws.CloudWatchAPI, namespace string) *CloudWatchRecorder {
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
	}
}

func (r *CloudWatchRecorder) put(name string, value float64, dims map[string]string) {
	datum := cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &value,
		Unit:       cwtypes.StandardUnitCount,
	}
	for k, v := range dims {
		k, v := k, v
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{Name: &k, Value: &v})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
		defer cancel()
		_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  &r.namespace,
			MetricData: []cwtypes.MetricDatum{datum},
		})
		if err != nil {
			log.Printf("[metrics] put %s failed: %v", name, err)
		}
	}()
}

func (r *CloudWatchRecorder) CacheHit(store string) {
	r.put("CacheHit", 1, map[string]string{"Store": store})
}

func (r *CloudWatchRecorder) CacheMiss(store string) {
	r.put("CacheMiss", 1, map[string]string{"Store": store})
}

func (r *CloudWatchRecorder) JobCreated(store string) {
	r.put("JobCreated", 1, map[string]string{"Store": store})
}

func (r *CloudWatchRecorder) JobJoined(store string) {
	r.put("JobJoined", 1, map[string]string{"Store": store})
}

func (r *CloudWatchRecorder) JobOutcome(store, status string) {
	r.put("JobOutcome", 1, map[string]string{"Store": store, "Status": status})
}

func (r *CloudWatchRecorder) JobsReaped(count int) {
	if count == 0 {
		return
	}
	r.put("JobsReaped", float64(count), nil)
}
