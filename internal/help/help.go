// Package help answers the `help` RPC tool (§6): AWS-CLI parameter
// documentation and Bouncer's own multi-step workflow guides, looked up
// from an embedded table. No network calls and no botocore dependency —
// the Python original shelled out to botocore's service models at
// request time; this implementation trades that live catalog for a
// curated table of the services Bouncer's classifier already knows
// about (§1's GLOSSARY), which is enough to guide an agent toward the
// right flags without a runtime AWS dependency.
package help

import (
	"fmt"
	"sort"
	"strings"
)

// Param documents one CLI flag.
type Param struct {
	Name        string
	Required    bool
	Type        string
	Description string
}

// Operation documents one AWS CLI `service action` pair.
type Operation struct {
	Service     string
	Action      string
	Description string
	Params      []Param
}

// Workflow documents one of Bouncer's own multi-step tool sequences,
// grounded on original_source/src/help_command.py's built-in
// "batch-deploy" entry.
type Workflow struct {
	Name        string
	Description string
	Steps       []string
	Example     string
	SeeAlso     []string
}

var operations = map[string]Operation{
	"s3 cp": {
		Service: "s3", Action: "cp",
		Description: "Copies a local file or S3 object to another location locally or in S3.",
		Params: []Param{
			{Name: "recursive", Type: "boolean", Description: "Command is performed on all files or objects under the specified directory or prefix."},
			{Name: "acl", Type: "string", Description: "Sets the ACL for the object when the command is performed."},
			{Name: "sse", Type: "string", Description: "Server-side encryption algorithm used when storing the object."},
		},
	},
	"s3 ls": {
		Service: "s3", Action: "ls",
		Description: "List S3 objects and common prefixes under a prefix, or all S3 buckets.",
		Params: []Param{
			{Name: "recursive", Type: "boolean", Description: "Command is performed on all files or objects under the specified directory or prefix."},
		},
	},
	"ec2 describe-instances": {
		Service: "ec2", Action: "describe-instances",
		Description: "Describes the specified instances or all instances.",
		Params: []Param{
			{Name: "instance-ids", Type: "list of string", Description: "The instance IDs."},
			{Name: "filters", Type: "list of JSON object", Description: "The filters."},
		},
	},
	"ec2 terminate-instances": {
		Service: "ec2", Action: "terminate-instances",
		Description: "Shuts down the specified instances. This operation is irreversible.",
		Params: []Param{
			{Name: "instance-ids", Required: true, Type: "list of string", Description: "The IDs of the instances."},
		},
	},
	"iam create-user": {
		Service: "iam", Action: "create-user",
		Description: "Creates a new IAM user for your AWS account.",
		Params: []Param{
			{Name: "user-name", Required: true, Type: "string", Description: "The name of the user to create."},
			{Name: "permissions-boundary", Type: "string", Description: "The ARN of the managed policy used as the permissions boundary."},
		},
	},
	"lambda update-function-code": {
		Service: "lambda", Action: "update-function-code",
		Description: "Updates a Lambda function's code.",
		Params: []Param{
			{Name: "function-name", Required: true, Type: "string", Description: "The name or ARN of the Lambda function."},
			{Name: "zip-file", Type: "blob", Description: "The base64-encoded contents of the deployment package."},
		},
	},
}

var workflows = map[string]Workflow{
	"batch-deploy": {
		Name:        "batch-deploy",
		Description: "Full batch-deploy flow: presigned_batch -> confirm_upload -> trust session -> grant session, minimizing approvals across a multi-file upload and deploy.",
		Steps: []string{
			"1. request_presigned_batch  -- get presigned PUT URLs for every file",
			"2. confirm_upload           -- verify staging, write the audit row",
			"3. trust_session            -- open a trust window to cut repeated approvals",
			"4. execute (grant)          -- run the deploy commands under trust or grant",
		},
		Example: "request_presigned_batch files=[{filename:\"app.zip\",content_type:\"application/zip\"}] reason=\"deploy app\" source=\"agent-1\"\n" +
			"confirm_upload batch_id=<batch_id> source=\"agent-1\"\n" +
			"request_grant commands=[\"aws lambda update-function-code ...\"] reason=\"deploy app\" source=\"agent-1\" account=\"111111111111\"",
		SeeAlso: []string{"request_presigned_batch", "confirm_upload", "request_grant", "execute"},
	},
}

// Lookup resolves a raw "aws <service> <action>" command (or a bare
// Bouncer workflow name) to its documentation entry.
func Lookup(command string) (*Operation, *Workflow, []string) {
	key := normalizeWorkflowKey(command)
	if wf, ok := workflows[key]; ok {
		return nil, &wf, nil
	}

	parts := strings.Fields(strings.TrimPrefix(strings.TrimSpace(command), "aws "))
	if len(parts) < 2 {
		return nil, nil, nil
	}
	opKey := parts[0] + " " + parts[1]
	if op, ok := operations[opKey]; ok {
		return &op, nil, nil
	}
	return nil, nil, similarOperations(opKey)
}

// ServiceOperations lists every documented action for a service.
func ServiceOperations(service string) []string {
	var out []string
	for key, op := range operations {
		if op.Service == service {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func normalizeWorkflowKey(command string) string {
	key := strings.ToLower(strings.TrimSpace(command))
	key = strings.TrimPrefix(key, "/")
	key = strings.TrimPrefix(key, "bouncer ")
	return key
}

// similarOperations finds documented actions under the same service,
// grounded on help_command.py's find_similar_operations (same-service
// candidates ranked ahead of an empty result rather than a fuzzy score).
func similarOperations(opKey string) []string {
	parts := strings.Fields(opKey)
	if len(parts) == 0 {
		return nil
	}
	service := parts[0]
	candidates := ServiceOperations(service)
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}
	return candidates
}

// FormatText renders a Lookup result as the single text block the Chat
// Channel posts back, mirroring help_command.py's format_help_text.
func FormatText(op *Operation, wf *Workflow, similar []string, command string) string {
	if wf != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "bouncer help %s\n\n%s\n\nSteps:\n", wf.Name, wf.Description)
		for _, step := range wf.Steps {
			fmt.Fprintf(&b, "  %s\n", step)
		}
		if wf.Example != "" {
			fmt.Fprintf(&b, "\nExample:\n%s\n", wf.Example)
		}
		if len(wf.SeeAlso) > 0 {
			fmt.Fprintf(&b, "\nSee also: %s", strings.Join(wf.SeeAlso, ", "))
		}
		return b.String()
	}
	if op != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "aws %s %s\n\n%s\n\nParameters:\n", op.Service, op.Action, op.Description)
		for _, p := range op.Params {
			req := ""
			if p.Required {
				req = " (required)"
			}
			fmt.Fprintf(&b, "  --%s%s\n      type: %s\n      %s\n", p.Name, req, p.Type, p.Description)
		}
		return b.String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "no documentation found for %q\n", command)
	if len(similar) > 0 {
		fmt.Fprintf(&b, "\nsimilar operations:\n")
		for _, s := range similar {
			fmt.Fprintf(&b, "  - aws %s\n", s)
		}
	}
	return b.String()
}
