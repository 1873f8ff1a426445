package telemetry

import "go.opentelemetry.io/otel/attribute"

func connectionAttr(connection string) attribute.KeyValue {
	return attribute.String("connection", connection)
}
