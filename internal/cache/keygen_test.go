package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePrompt(t *testing.T) {
	assert.Equal(t, "analyze this contract", NormalizePrompt("  Analyze   THIS\n\tcontract  "))
	assert.Equal(t, "계약서 위험 분석", NormalizePrompt("계약서   위험\n분석"))
	assert.Equal(t, "", NormalizePrompt("   \n\t "))
}

func TestFingerprint_WhitespaceAndCaseInsensitive(t *testing.T) {
	meta := Metadata{RequestType: RequestRiskAnalysis, Language: "ko"}

	k1 := Fingerprint("계약서 위험 분석", "You are a lawyer.", meta)
	k2 := Fingerprint("  계약서   위험\n분석 ", "you are a LAWYER.", meta)
	assert.Equal(t, k1, k2)

	k3 := Fingerprint("계약서 위험 분석 부탁", "You are a lawyer.", meta)
	assert.NotEqual(t, k1, k3)
}

func TestFingerprint_MetadataSensitivity(t *testing.T) {
	base := Fingerprint("analyze", "", Metadata{
		RequestType:  RequestContractAnalysis,
		ContractType: "employment",
		Language:     "ko",
	})

	// Same logical metadata, different construction order of fields.
	same := Fingerprint("analyze", "", Metadata{
		Language:     "ko",
		ContractType: "employment",
		RequestType:  RequestContractAnalysis,
	})
	assert.Equal(t, base, same)

	// Metadata casing does not matter for classification fields.
	folded := Fingerprint("analyze", "", Metadata{
		RequestType:  RequestContractAnalysis,
		ContractType: "Employment",
		Language:     "KO",
	})
	assert.Equal(t, base, folded)

	// Changing any field changes the key.
	diff := Fingerprint("analyze", "", Metadata{
		RequestType:  RequestContractAnalysis,
		ContractType: "lease",
		Language:     "ko",
	})
	assert.NotEqual(t, base, diff)

	// Different users never share an entry.
	user := Fingerprint("analyze", "", Metadata{
		RequestType:  RequestContractAnalysis,
		ContractType: "employment",
		Language:     "ko",
		UserID:       "u1",
	})
	assert.NotEqual(t, base, user)
}

func TestDeriveTags(t *testing.T) {
	t.Run("metadata tags", func(t *testing.T) {
		tags := DeriveTags("plain question", Metadata{
			RequestType:  RequestComplianceCheck,
			ContractType: "Employment",
			Language:     "ko",
			Jurisdiction: "KR",
			UserID:       "u1",
			Tags:         []string{"Priority"},
		})
		assert.Contains(t, tags, "compliance-check")
		assert.Contains(t, tags, "contract:employment")
		assert.Contains(t, tags, "lang:ko")
		assert.Contains(t, tags, "jurisdiction:kr")
		assert.Contains(t, tags, "user:u1")
		assert.Contains(t, tags, "priority")
	})

	t.Run("keyword scan", func(t *testing.T) {
		tags := DeriveTags("계약서 위험 분석과 compliance 점검", Metadata{})
		assert.Contains(t, tags, "risk-analysis")
		assert.Contains(t, tags, "compliance")
		assert.Contains(t, tags, "contract-analysis")
	})

	t.Run("no duplicates", func(t *testing.T) {
		tags := DeriveTags("risk risk risk", Metadata{RequestType: RequestRiskAnalysis})
		count := 0
		for _, tag := range tags {
			if tag == "risk-analysis" {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})
}
