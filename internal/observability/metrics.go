package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MAmbiguousHolds          MetricKey = "checkout_ambiguous_holds_total"
	MOrphanedPayments        MetricKey = "checkout_orphaned_payments_total"
	MHoldsReleased           MetricKey = "inventory_holds_released_total"
)
