package compliance

import "regexp"

// defaultRules covers the rule families named in §4.2 (illustrative — table
// contents are data, not design). The trust-policy rule (IAM-002) has no
// trusted-account allowlist: it fires for any "AWS" principal naming a
// 12-digit account root, whichever account that is.
var defaultRules = []Rule{
	{
		ID:          "IAM-001",
		Name:        "principal wildcard",
		Description: "identity policy grants access to principal \"*\"",
		Remediation: "scope the Principal element to specific account or role ARNs",
		Pattern:     regexp.MustCompile(`"Principal"\s*:\s*"?\*"?`),
	},
	{
		ID:          "URL-001",
		Name:        "function URL auth type NONE",
		Description: "Lambda function URL configured with no IAM authorization",
		Remediation: "set --auth-type AWS_IAM unless public invocation is intentional",
		Pattern:     regexp.MustCompile(`--auth-type\s+NONE`),
	},
	{
		ID:          "S3-001",
		Name:        "public ACL",
		Description: "bucket or object ACL grants public-read or public-read-write",
		Remediation: "use bucket policies with explicit principals instead of canned public ACLs",
		Pattern:     regexp.MustCompile(`--acl\s+public-read`),
	},
	{
		ID:          "S3-002",
		Name:        "public access block disabled",
		Description: "S3 public access block configuration is being relaxed",
		Remediation: "keep BlockPublicAcls/BlockPublicPolicy enabled unless a reviewed exception applies",
		Pattern:     regexp.MustCompile(`put-public-access-block.*"BlockPublicAcls"\s*:\s*false`),
	},
	{
		ID:          "SNAP-001",
		Name:        "snapshot/AMI publication",
		Description: "EBS snapshot, AMI, or RDS snapshot being made publicly restorable",
		Remediation: "share explicitly with account IDs instead of the \"all\" group",
		Pattern:     regexp.MustCompile(`modify-(snapshot|image)-attribute.*--group(s)?\s+(all|\["all"\])`),
	},
	{
		ID:          "IAM-002",
		Name:        "external trust policy",
		Description: "trust policy names an AWS account root as principal",
		Remediation: "scope the principal to a specific role ARN or remove the cross-account principal",
		Pattern:     regexp.MustCompile(`"AWS"\s*:\s*"arn:aws:iam::\d{12}:root"`),
	},
	{
		ID:          "SG-001",
		Name:        "open ingress on sensitive port",
		Description: "security group ingress rule opens 0.0.0.0/0 on a sensitive port (22, 3389, 3306, 5432, 6379)",
		Remediation: "restrict CidrIp to known ranges or use a bastion/SSM session",
		Pattern:     regexp.MustCompile(`authorize-security-group-ingress.*0\.0\.0\.0/0.*(--port|FromPort["':= ]*)(22|3389|3306|5432|6379)\b`),
	},
	{
		ID:          "SECRET-001",
		Name:        "hard-coded credential",
		Description: "command body appears to embed an access key ID, secret key, or PEM block",
		Remediation: "pass credentials via environment or a secrets manager reference, never inline",
		Pattern:     regexp.MustCompile(`(AKIA[0-9A-Z]{16}|-----BEGIN (RSA |EC )?PRIVATE KEY-----)`),
	},
	{
		ID:          "EC2-001",
		Name:        "sensitive instance attribute modification",
		Description: "modify-instance-attribute touches user-data, IAM profile, source/dest check, kernel, or ramdisk",
		Remediation: "review instance-attribute changes individually; they are not batch-safe",
		Pattern:     regexp.MustCompile(`modify-instance-attribute.*--(user-data|iam-instance-profile|source-dest-check|kernel|ramdisk)\b`),
	},
}
