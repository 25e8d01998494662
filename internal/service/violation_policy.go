package service

import (
	"fmt"

	"github.com/stemsi/exstem-runtime/internal/model"
)

var violationLabels = map[model.ViolationType]string{
	model.ViolationFullscreenExit: "keluar dari mode layar penuh",
	model.ViolationTabSwitch:      "berpindah tab atau aplikasi",
	model.ViolationWindowBlur:     "meninggalkan jendela ujian",
	model.ViolationBackNavigation: "menekan tombol kembali",
	model.ViolationPageReload:     "memuat ulang halaman",
	model.ViolationPageClose:      "mencoba menutup ujian",
	model.ViolationContextMenu:    "membuka menu konteks",
	model.ViolationCopy:           "menyalin teks",
	model.ViolationCut:            "memotong teks",
	model.ViolationPaste:          "menempel teks",
	model.ViolationRestrictedKey:  "menekan tombol terlarang",
}

// Decide turns a running violation count into a verdict. The attempt is
// terminated once count reaches limit; earlier violations get a warning.
func Decide(t model.ViolationType, count, limit int) model.Verdict {
	label, ok := violationLabels[t]
	if !ok {
		label = string(t)
	}

	if limit > 0 && count >= limit {
		return model.Verdict{
			Warning: fmt.Sprintf("Pelanggaran %d dari %d: %s. Ujian Anda dihentikan dan jawaban dikumpulkan otomatis.",
				count, limit, label),
			ViolationCount:  count,
			ShouldTerminate: true,
		}
	}

	warning := fmt.Sprintf("Peringatan %d: %s terdeteksi.", count, label)
	if limit > 0 {
		warning = fmt.Sprintf("Peringatan %d dari %d: %s terdeteksi. Ujian akan dihentikan pada pelanggaran ke-%d.",
			count, limit, label, limit)
	}
	return model.Verdict{Warning: warning, ViolationCount: count}
}
