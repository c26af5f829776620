package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ScenarioACSV holds one group of five items. The last item is priced about
// five times the others, had a single proposal and no discount.
const ScenarioACSV = "processo,ug,descricao,vlr_est_unit,vlr_adj_unit,cnpj_vencedor,n_propostas\n" +
	"P1,UG1,Cimento Portland,11.40,9.50,S1,4\n" +
	"P1,UG1,Cimento Portland,12.00,10.00,S1,4\n" +
	"P2,UG1,Cimento Portland,12.60,10.50,S1,4\n" +
	"P2,UG1,Cimento Portland,12.24,10.20,S1,4\n" +
	"P3,UG1,Cimento Portland,50.00,50.00,S1,1\n"

// ScenarioAOutlierRow is the RowID of the overpriced item in ScenarioACSV.
const ScenarioAOutlierRow = 4

// ScenarioBCSV holds three processes. P1 and P2 share cimento; P3 is meant
// to stay unflagged.
const ScenarioBCSV = "processo,ug,descricao,vlr_est_unit,vlr_adj_unit,cnpj_vencedor,n_propostas\n" +
	"P1,UG1,Cimento,40,38,S1,3\n" +
	"P1,UG1,Areia,90,88,S1,3\n" +
	"P2,UG2,CIMENTO,41,39,S2,2\n" +
	"P2,UG2,Brita,70,69,S2,2\n" +
	"P3,UG3,Tijolo,1.2,1.1,S3,5\n" +
	"P3,UG3,Areia,95,91,S3,5\n"

// ScenarioBFlagList flags P1 and P2 of ScenarioBCSV.
const ScenarioBFlagList = "process_id\n# flagged upstream\nP1\n\nP2\n"

// ScenarioCCSV holds a single item without an estimated price.
const ScenarioCCSV = "processo,ug,descricao,vlr_est_unit,vlr_adj_unit,cnpj_vencedor,n_propostas\n" +
	"P9,UG1,Areia lavada,,80,S1,5\n"

// WriteFixture writes content to name inside a per-test temp dir and
// returns the file path.
func WriteFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}
