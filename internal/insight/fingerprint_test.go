package insight

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintNearDuplicates(t *testing.T) {
	a := Fingerprint("job_analysis", "The role requires strong Kubernetes and Terraform experience.")
	b := Fingerprint("job_analysis", "Role requires STRONG kubernetes, terraform experience!")
	assert.Equal(t, a, b)

	// 只看前 5 个有效词，且与顺序无关
	c := Fingerprint("job_analysis", "strong requires role kubernetes terraform; plus on-call rotations")
	assert.Equal(t, a, c)

	assert.NotEqual(t, a, Fingerprint("polish", "The role requires strong Kubernetes and Terraform experience."))
	assert.NotEqual(t, a, Fingerprint("job_analysis", "Candidate lacks production Go services experience"))
}

func TestCategoryForStep(t *testing.T) {
	assert.Equal(t, "job_analysis", CategoryForStep("analyzing"))
	assert.Equal(t, "resume_rewrite", CategoryForStep("rewriting"))
	assert.Equal(t, "validation", CategoryForStep("validating"))
	assert.Equal(t, "polish", CategoryForStep("polishing"))
	assert.Equal(t, "cover_letter", CategoryForStep("cover_letter"))
}

func TestTrimHead(t *testing.T) {
	assert.Equal(t, "abc", trimHead("abc", 5))
	assert.Equal(t, "cde", trimHead("abcde", 3))
	// 不截断多字节字符
	assert.Equal(t, "b", trimHead("é"+"b", 2))
	assert.Equal(t, "éb", trimHead("aéb", 3))
}
