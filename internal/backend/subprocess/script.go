package subprocess

// RenderScript wraps user code with the standard data-science prelude
// and a postlude that serializes the resulting globals to result.json.
// Ported from original_source/backend/app/services/code_wrapper.py's
// wrap_code, simplified to match domain.SerializedValue's tagged-variant
// shape instead of the original's ad-hoc "type" dict fields. Shared
// with internal/backend/docker, whose one-shot mode runs the same
// on-disk script/result.json protocol inside a --network none container.
func RenderScript(userCode string, hasData bool) string {
	dataLoad := "\ndf = None\n"
	if hasData {
		dataLoad = `
try:
    df = pd.read_parquet("data.parquet")
except Exception as e:
    print(f"Error loading data: {e}", file=sys.stderr)
    df = None
`
	}

	return prelude + dataLoad + "\n# --- user code ---\n" + userCode + "\n" + postlude
}

const prelude = `import sys
import os
import io
import json
import base64
import types

import pandas as pd
import numpy as np
import scipy.stats
import sklearn
import statsmodels.api as sm
import matplotlib
matplotlib.use("Agg")
import matplotlib.pyplot as plt
import seaborn as sns
import plotly.express as px
import plotly.graph_objects as go
import plotly.io as pio

_visualizations = []

def _capture_plt_show(*args, **kwargs):
    for i in plt.get_fignums():
        fig = plt.figure(i)
        buf = io.BytesIO()
        fig.savefig(buf, format="png", bbox_inches="tight")
        buf.seek(0)
        _visualizations.append({
            "kind": "raster",
            "format": "png",
            "base64": base64.b64encode(buf.read()).decode("utf-8"),
        })
        plt.close(fig)

plt.show = _capture_plt_show
`

const postlude = `
# --- serialization ---

def _safe_serialize(val):
    if isinstance(val, pd.DataFrame):
        return {
            "kind": "table",
            "table_shape": list(val.shape),
            "table_columns": val.columns.tolist(),
            "table_preview": val.head(10).to_dict(orient="records"),
        }
    if isinstance(val, pd.Series):
        return {
            "kind": "series",
            "series_length": len(val),
            "series_preview": val.head(10).tolist(),
        }
    if isinstance(val, np.ndarray):
        return {
            "kind": "array",
            "array_shape": list(val.shape),
            "array_preview_flat": val.flatten()[:20].tolist(),
        }
    if isinstance(val, (np.integer, np.floating)):
        val = val.item()
    try:
        json.dumps(val)
        return {"kind": "scalar", "scalar": val}
    except Exception:
        return {"kind": "opaque", "opaque": str(val)}

if plt.get_fignums():
    _capture_plt_show()

_variables = {}
for _name, _val in list(locals().items()):
    if _name.startswith("_") or isinstance(_val, types.ModuleType) or isinstance(_val, types.FunctionType):
        continue
    if hasattr(_val, "to_json") and "plotly.graph_objs" in str(type(_val)):
        try:
            _visualizations.append({"kind": "vector", "spec_json": json.loads(_val.to_json())})
            continue
        except Exception:
            pass
    try:
        _variables[_name] = _safe_serialize(_val)
    except Exception:
        _variables[_name] = {"kind": "opaque", "opaque": str(_val)}

with open("result.json", "w") as _f:
    json.dump({"variables": _variables, "visualizations": _visualizations}, _f, default=str)
`
