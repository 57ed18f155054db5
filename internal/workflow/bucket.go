package workflow

import "casewizard/internal/domain"

// bucket tracks which item of one AI-protocol treatment group bears the
// remote call.
type bucket struct {
	primary       string
	failedPrimary bool
}

// bucketPlan decides, item by item, whether a remote protocol call is made.
// Generic treatments always get their own protocol. AI treatments call only
// for the group's primary; when the primary fails the next sibling takes
// over, and once a primary succeeds later siblings wait for the sync.
type bucketPlan struct {
	buckets map[domain.TreatmentType]*bucket
}

func newBucketPlan(items []submissionItem) *bucketPlan {
	p := &bucketPlan{buckets: map[domain.TreatmentType]*bucket{}}
	for _, it := range items {
		if !it.treatment.UsesAIProtocol() {
			continue
		}
		if _, ok := p.buckets[it.treatment]; !ok {
			p.buckets[it.treatment] = &bucket{primary: it.id}
		}
	}
	return p
}

func (p *bucketPlan) shouldCall(it submissionItem) bool {
	b, ok := p.buckets[it.treatment]
	if !ok {
		return true
	}
	if b.primary == it.id {
		return true
	}
	if b.failedPrimary {
		b.primary = it.id
		return true
	}
	return false
}

func (p *bucketPlan) failed(it submissionItem) {
	if b, ok := p.buckets[it.treatment]; ok && b.primary == it.id {
		b.failedPrimary = true
	}
}

func (p *bucketPlan) succeeded(it submissionItem) {
	if b, ok := p.buckets[it.treatment]; ok && b.primary == it.id {
		b.failedPrimary = false
	}
}
