// Package tasks implements TaskHive's task resource: organization-scoped
// task CRUD and file attachments.
//
// # Tenancy
//
// Tasks belong to exactly one organization and every store query carries
// an organization_id predicate, so a task id harvested from one tenant
// resolves to nothing in another. Handlers never trust ids in request
// bodies for scoping; the organization comes from the URL path, which the
// guard pipeline has already matched against the caller's token binding.
//
// # Attachments
//
// Attachment metadata (name, content type, size) is a Postgres row; the
// bytes live in blob storage under "orgs/<org>/tasks/<task>/<uuid>".
// Uploads write the blob first and the row second, deletes remove the row
// first and the blob after the response. Either order of failure leaves
// at worst an unreferenced blob, never a row pointing at missing bytes.
//
// Downloads redirect to a presigned URL when the blob backend supports
// it (S3), and stream through the API server otherwise (filesystem).
//
// # Permissions
//
// Routes map onto the tasks.* permission family: creating requires
// tasks.create, reading tasks.read, editing tasks.update, the assignee
// endpoint tasks.assign, deleting tasks.delete, and attachment writes
// attachments.upload/attachments.delete. The mapping itself lives in the
// route policy table, not here.
package tasks
