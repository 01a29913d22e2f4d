// Package export provides window export, history charting and sample import.
//
// # Export
//
// GET /v1/export?corridor=&format=json|csv returns the corridor's current
// window. With source=history and an optional start/end (RFC3339) the durable
// mirror is queried instead, which holds more than the window on the badger,
// sqlite and postgres backends.
//
// JSON exports carry a metadata block and can be imported again. CSV exports
// use the mirror's column layout (ts,cars,buses,trucks,camera).
//
//	curl "http://localhost:8080/v1/export?corridor=i-678-van-wyck&format=csv" -o van-wyck.csv
//
// # Import
//
// POST /v1/import?camera= accepts either a CSV body (text/csv) or a JSON export
// (application/json). Samples go through the same append path as detection, so
// they are validated, merged into the window and mirrored. Rows without a
// camera are attributed to the camera query parameter.
//
// # History
//
// GET /v1/history/{corridor}?start=&end=&max_points= returns mirror samples as
// chart points, averaged into buckets when there are more than max_points.
package export
