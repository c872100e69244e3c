package browser

// SnapshotScript tags every interactive, control and heading element with its
// live layout state and returns the serialized document. The attributes it
// writes are the contract between the drivers and the HTML analysis:
//
//	data-sc-box      "x,y,w,h" in document coordinates
//	data-sc-hidden   "1" when the element has no rendered box or is hidden by style
//	data-sc-checked  live checked state of checkboxes and radios
//	data-sc-value    live value of selects
//
// Attributes are rewritten on every call so stale state never leaks between snapshots.
const SnapshotScript = `() => {
  const sel = 'a,button,input,select,summary,details,label,[role],[onclick],[data-href],[tabindex],' +
    '[aria-expanded],[aria-pressed],[aria-checked],.switch,.toggle,.mat-slide-toggle,.ant-switch,h1,h2,h3';
  document.querySelectorAll(sel).forEach((el) => {
    const r = el.getBoundingClientRect();
    const st = window.getComputedStyle(el);
    const hidden = (r.width === 0 && r.height === 0) || st.visibility === 'hidden' || st.display === 'none';
    el.setAttribute('data-sc-box', [
      Math.round(r.x + window.scrollX), Math.round(r.y + window.scrollY),
      Math.round(r.width), Math.round(r.height)].join(','));
    if (hidden) { el.setAttribute('data-sc-hidden', '1'); } else { el.removeAttribute('data-sc-hidden'); }
    if (el.tagName === 'INPUT' && (el.type === 'checkbox' || el.type === 'radio')) {
      el.setAttribute('data-sc-checked', el.checked ? 'true' : 'false');
    }
    if (el.tagName === 'SELECT') { el.setAttribute('data-sc-value', el.value); }
  });
  return document.documentElement.outerHTML;
}`

// domClickScript clicks the first node matching an XPath argument.
const domClickScript = `(xpath) => {
  const el = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
  if (!el) { return false; }
  el.click();
  return true;
}`

// hoverScript dispatches pointer hover events on the first node matching an XPath argument.
const hoverScript = `(xpath) => {
  const el = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
  if (!el) { return false; }
  for (const type of ['pointerover', 'mouseover', 'mouseenter']) {
    el.dispatchEvent(new MouseEvent(type, { bubbles: type !== 'mouseenter', view: window }));
  }
  return true;
}`
